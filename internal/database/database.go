// Package database is the narrow, read-only window onto the catalogue's
// PostgreSQL store. Only the questions the search index cannot answer are
// asked here: which subtemplates exist under which filters, and whether any
// stored document still references a given UUID.
//
// Design: a connection is opened per logical operation and closed when it
// completes; nothing in this package writes.
package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/geocat-ops/geocatctl/internal/config"
)

// protectedPatterns marks extent subtemplates that belong to the maintained
// national geodata set. Records whose UUID contains one of these are never
// reported as unused, whatever the reference count says.
var protectedPatterns = []string{
	"hoheitsgebiet",
	"bezirk",
	"kantonsgebiet",
	"landesgebiet",
}

// DB wraps one read-only connection to an environment's database.
type DB struct {
	conn *sqlx.DB
}

// Credentials are the database username and password. These are separate
// from the catalogue login.
type Credentials struct {
	Username string
	Password string
}

// Open connects to the environment's database. Callers own the handle for
// one logical operation and must Close it afterwards.
func Open(env config.Environment, creds Credentials) (*DB, error) {
	if env.DBHost == "" || env.DBName == "" {
		return nil, fmt.Errorf("database: environment %s has no database configured", env.Name)
	}

	dsn := fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=require",
		env.DBHost, env.DBName, creds.Username, creds.Password)

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: connecting to %s/%s: %w", env.DBHost, env.DBName, err)
	}
	return &DB{conn: conn}, nil
}

// NewFromConn wraps an existing connection. Used by tests.
func NewFromConn(conn *sqlx.DB) *DB { return &DB{conn: conn} }

// Close releases the connection.
func (db *DB) Close() error { return db.conn.Close() }

// SubtemplateFilter selects which reusable objects SubtemplateUUIDs returns.
// The zero value selects every subtemplate.
type SubtemplateFilter struct {
	// ValidOnly keeps only subtemplates whose latest validation passed.
	ValidOnly bool
	// PublishedOnly keeps only subtemplates visible to the public group.
	PublishedOnly bool
	// WithTemplates also includes subtemplate templates (istemplate 't').
	WithTemplates bool
	// ChangedBefore keeps only subtemplates last changed before the given
	// time. Zero disables the restriction.
	ChangedBefore time.Time
}

// changedateFormat matches the catalogue's textual changedate column.
const changedateFormat = "2006-01-02T15:04:05"

// SubtemplateUUIDs lists the UUIDs of the catalogue's reusable objects.
func (db *DB) SubtemplateUUIDs(ctx context.Context, f SubtemplateFilter) ([]string, error) {
	kinds := []string{"s"}
	if f.WithTemplates {
		kinds = append(kinds, "t")
	}

	q := `SELECT uuid FROM metadata WHERE istemplate IN (?)`
	args := []any{kinds}

	if f.ValidOnly {
		q += ` AND id IN (SELECT metadataid FROM validation WHERE status = 1 AND required = true)`
	}
	if f.PublishedOnly {
		q += ` AND id IN (SELECT metadataid FROM operationallowed WHERE groupid = 1 AND operationid = 0)`
	}
	if !f.ChangedBefore.IsZero() {
		q += ` AND changedate < ?`
		args = append(args, f.ChangedBefore.Format(changedateFormat))
	}
	q += ` ORDER BY uuid`

	q, inArgs, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("database: building subtemplate query: %w", err)
	}

	var uuids []string
	if err := db.conn.SelectContext(ctx, &uuids, db.conn.Rebind(q), inArgs...); err != nil {
		return nil, fmt.Errorf("database: listing subtemplates: %w", err)
	}
	return uuids, nil
}

// referencePattern builds the regexp that finds uuid inside stored XML
// documents. The trailing character class stops uuid "abc-1" from matching
// inside "abc-10".
func referencePattern(uuid string) string {
	return regexp.QuoteMeta(uuid) + "[^0-9]"
}

// ReferenceCount counts the stored records whose XML mentions uuid,
// excluding the subtemplate's own row. Every record counts, whatever its
// change date: a reference from a freshly edited record is still a
// reference.
func (db *DB) ReferenceCount(ctx context.Context, uuid string) (int, error) {
	const q = `SELECT count(*) FROM metadata WHERE data ~ $1 AND uuid <> $2`

	var n int
	if err := db.conn.GetContext(ctx, &n, q, referencePattern(uuid), uuid); err != nil {
		return 0, fmt.Errorf("database: counting references to %s: %w", uuid, err)
	}
	return n, nil
}

// RecordsReferencing lists the UUIDs of records whose XML mentions uuid.
func (db *DB) RecordsReferencing(ctx context.Context, uuid string) ([]string, error) {
	const q = `SELECT uuid FROM metadata WHERE data ~ $1 AND uuid <> $2 ORDER BY uuid`

	var uuids []string
	if err := db.conn.SelectContext(ctx, &uuids, q, referencePattern(uuid), uuid); err != nil {
		return nil, fmt.Errorf("database: listing records referencing %s: %w", uuid, err)
	}
	return uuids, nil
}

// HarvesterSetting is one row of the harvestersettings tree. The table is
// hierarchical; parent IDs are preserved so a dump can be replayed.
type HarvesterSetting struct {
	ID       int     `db:"id" json:"id"`
	ParentID *int    `db:"parentid" json:"parent_id"`
	Name     string  `db:"name" json:"name"`
	Value    *string `db:"value" json:"value"`
}

// HarvesterSettings reads the full harvester configuration tree.
func (db *DB) HarvesterSettings(ctx context.Context) ([]HarvesterSetting, error) {
	const q = `SELECT id, parentid, name, value FROM harvestersettings ORDER BY id`

	var settings []HarvesterSetting
	if err := db.conn.SelectContext(ctx, &settings, q); err != nil {
		return nil, fmt.Errorf("database: reading harvester settings: %w", err)
	}
	return settings, nil
}

// Protected reports whether a subtemplate UUID belongs to the maintained
// national extent set and must never be pruned.
func Protected(uuid string) bool {
	lower := strings.ToLower(uuid)
	for _, p := range protectedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
