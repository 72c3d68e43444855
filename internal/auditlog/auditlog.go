// Package auditlog keeps a persistent record of every catalogue-mutating
// operation the tool performs. Entries go to a SQLite database under
// ~/.geocatctl/log/, one row per record touched, so that a batch run gone
// wrong can be reconstructed afterwards.
//
// # Fluent API
//
//	auditlog.Event("restore:record", "upload").
//		Environment(env.BaseURL).
//		UUID(uuid).
//		Run(runID).
//		Write(err)
//
// The source parameter follows the format "{command}:{subject}", e.g.
// "backup:metadata" or "subtemplate:prune".
package auditlog

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	global *Logger
	mu     sync.Mutex
)

// Entry is a single audit row.
type Entry struct {
	Source      string // e.g. "backup:metadata", "restore:record"
	Action      string // verb: export, upload, delete, ...
	Environment string // hashed environment identifier
	UUID        string // record or subtemplate UUID, when applicable
	RunID       string // batch run identifier, when part of a batch

	Start int64 // unix timestamp when Event() was called
	End   int64 // unix timestamp when Write() was called

	Success bool
	Error   string
	Detail  map[string]any
}

// Builder constructs an entry using a fluent API. Create with [Event],
// chain setters, then call [Builder.Write] with the operation's error.
type Builder struct {
	entry Entry
}

// Event starts an entry for one operation.
func Event(source, action string) *Builder {
	return &Builder{
		entry: Entry{
			Source: source,
			Action: action,
			Start:  time.Now().Unix(),
		},
	}
}

// Environment tags the entry with the target catalogue. The base URL is
// hashed before storage.
func (b *Builder) Environment(baseURL string) *Builder {
	b.entry.Environment = hash(baseURL)
	return b
}

// UUID sets the record this operation touched.
func (b *Builder) UUID(uuid string) *Builder {
	b.entry.UUID = uuid
	return b
}

// Run ties the entry to a batch run.
func (b *Builder) Run(runID string) *Builder {
	b.entry.RunID = runID
	return b
}

// Detail adds operation-specific data. Can be called multiple times.
func (b *Builder) Detail(key string, value any) *Builder {
	if b.entry.Detail == nil {
		b.entry.Detail = make(map[string]any)
	}
	b.entry.Detail[key] = value
	return b
}

// Write persists the entry, deriving success/failure from err. Best-effort:
// a logging failure never fails the operation being logged.
func (b *Builder) Write(err error) {
	b.entry.End = time.Now().Unix()
	b.entry.Success = err == nil
	if err != nil {
		b.entry.Error = err.Error()
	}
	Log(b.entry)
}

// Open initialises the global logger. Safe to call multiple times; callers
// may ignore the error (best-effort logging).
func Open() error {
	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		return nil
	}

	p := dbPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return err
	}

	global = &Logger{db: db}
	return nil
}

// Log writes an entry. No-op when the logger was never opened.
func Log(e Entry) {
	mu.Lock()
	l := global
	mu.Unlock()

	if l == nil {
		return
	}
	l.log(e)
}

// Close closes the global logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.db.Close()
		global = nil
	}
}
