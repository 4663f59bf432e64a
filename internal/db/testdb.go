package db

import (
	"context"
	"path/filepath"
	"testing"
)

// NewTestDB creates a fresh in-memory SQLite database with the schema applied.
// It holds a single connection, so statements never overlap.
func NewTestDB(t *testing.T) *DB {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewTestFileDB creates a fresh file-backed SQLite database in a temporary
// directory. It runs in WAL mode with a full connection pool, so concurrent
// callers really contend for the same rows.
func NewTestFileDB(t *testing.T) *DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "acervo.sqlite3"))
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
