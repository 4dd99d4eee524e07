// Package store persists documents, extracted questions, generated answers
// and processing tasks in SQLite. The tasks table implements task.Store so
// task state survives server restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a document, question or answer does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore is backed by a local SQLite database. It is safe for concurrent
// use; writes are serialised through a single connection.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// now is overridable in tests.
	now func() time.Time
}

// DefaultDBPath returns the default database path, ~/.rfpai/rfpai.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".rfpai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "rfpai.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY under concurrent writes and keeps
	// one shared database for ":memory:".
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    title        TEXT    NOT NULL,
    filename     TEXT    NOT NULL DEFAULT '',
    doc_type     TEXT    NOT NULL CHECK(doc_type IN ('knowledge_base','rfp')),
    content      TEXT    NOT NULL,
    processed    INTEGER NOT NULL DEFAULT 0,
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    uploaded_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    processed_at INTEGER            -- NULL until indexed
);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents (doc_type, uploaded_at);

CREATE TABLE IF NOT EXISTS questions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id  INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    number       INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    UNIQUE (document_id, number)
);

CREATE TABLE IF NOT EXISTS answers (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question_id  INTEGER NOT NULL UNIQUE REFERENCES questions(id) ON DELETE CASCADE,
    text         TEXT    NOT NULL,
    confidence   REAL    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '[]',  -- JSON array
    no_context   INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT '',
    generated_at INTEGER NOT NULL,
    edited       INTEGER NOT NULL DEFAULT 0,
    edited_at    INTEGER
);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT    PRIMARY KEY,
    input        TEXT    NOT NULL,  -- JSON task.Input
    status       TEXT    NOT NULL,
    progress     INTEGER NOT NULL,
    current_step TEXT    NOT NULL,
    result       TEXT,              -- JSON task.Result, set on completion
    error        TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,  -- Unix milliseconds
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks (status, updated_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. It satisfies the readiness probe
// contract together with Name.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
