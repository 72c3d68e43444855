// storage.go holds the SQLite persistence behind the fluent API in
// auditlog.go. The environment column stores a hash of the base URL rather
// than the URL itself, which keeps internal hostnames out of the database
// while still allowing per-environment queries.
//
// Design: errors during logging are reported to stderr and otherwise
// ignored. A failed audit write must never fail the catalogue operation it
// describes.

package auditlog

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"
)

// Logger writes audit entries to a SQLite database.
type Logger struct {
	db *sql.DB
}

func (l *Logger) log(e Entry) {
	var detail *string
	if len(e.Detail) > 0 {
		if b, err := json.Marshal(e.Detail); err == nil {
			s := string(b)
			detail = &s
		}
	}

	success := 0
	if e.Success {
		success = 1
	}

	_, err := l.db.Exec(`
		INSERT INTO log (start, end, environment, source, action, uuid, run_id,
		                 success, error, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Start, e.End, nilIfEmpty(e.Environment), e.Source, e.Action,
		nilIfEmpty(e.UUID), nilIfEmpty(e.RunID),
		success, nilIfEmpty(e.Error), detail,
	)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "geocatctl: audit log write failed: %v\n", err)
	}
}

// dbPathFunc returns the database path. Tests override it to use a temp
// directory.
var dbPathFunc = defaultDBPath

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory rather than silently dropping
		// the log in unusual environments (containers, CI).
		return filepath.Join(".geocatctl", "log", "geocatctl-log.db")
	}
	return filepath.Join(home, ".geocatctl", "log", "geocatctl-log.db")
}

func dbPath() string {
	return dbPathFunc()
}

// DBPath returns the path to the log database.
func DBPath() string {
	return dbPath()
}

// hash derives a stable environment identifier from a base URL.
func hash(s string) string {
	h, err := blake2b.New(8, nil) // 64-bit = 16 hex chars
	if err != nil {
		panic("blake2b.New failed: " + err.Error())
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// migrate creates the log table if it doesn't exist.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			start       INTEGER NOT NULL,
			end         INTEGER NOT NULL,
			environment TEXT,
			source      TEXT NOT NULL,
			action      TEXT NOT NULL,
			uuid        TEXT,
			run_id      TEXT,
			success     INTEGER NOT NULL,
			error       TEXT,
			detail      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_log_start ON log(start);
		CREATE INDEX IF NOT EXISTS idx_log_environment ON log(environment);
		CREATE INDEX IF NOT EXISTS idx_log_source ON log(source);
	`)
	return err
}
