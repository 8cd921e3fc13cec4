// Package dbopen opens the adapter's SQLite database with its pragmas and
// schema applied, and retries writes that hit a locked database.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("msadapter.db", dbopen.WithSchema(store.Schema))
//
// Tests use an in-memory database closed on cleanup:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type settings struct {
	busyMS  int
	mkdir   bool
	schemas []string
}

// Option configures Open.
type Option func(*settings)

// WithBusyTimeout sets how long SQLite waits on a lock, in milliseconds.
// Default: 5000.
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyMS = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdir = true } }

// WithSchema runs ddl once the pragmas are set. Statements must be idempotent.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, ddl) }
}

// Open opens the SQLite database at path through the "sqlite" driver
// registered by modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyMS: 5000}
	for _, o := range opts {
		o(&s)
	}
	if s.mkdir && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := prepare(db, &s); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(db *sql.DB, s *settings) error {
	stmts := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyMS),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range stmts {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database pinned to a single connection, so
// every query sees the same data, and closes it when the test ends.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
