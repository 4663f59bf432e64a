package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, "SELECT * FROM items WHERE id = ? AND status = ?", "SELECT * FROM items WHERE id = ? AND status = ?"},
		{Postgres, "SELECT * FROM items WHERE id = ? AND status = ?", "SELECT * FROM items WHERE id = $1 AND status = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		db := &DB{Dialect: tt.dialect}
		if got := db.Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%s, %q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)
	if err := EnsureSchema(context.Background(), database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE TABLE b (y INT);\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if stmts[1] != "CREATE TABLE b (y INT)" {
		t.Errorf("unexpected statement %q", stmts[1])
	}
}

func TestTimestampTruncates(t *testing.T) {
	ts := Now()
	if ts.Nanosecond() != 0 {
		t.Errorf("expected whole seconds, got %v", ts)
	}
	if ts.Location().String() != "UTC" {
		t.Errorf("expected UTC, got %v", ts.Location())
	}
}

func TestFileDBAllowsConcurrentConnections(t *testing.T) {
	database := NewTestFileDB(t)
	ctx := context.Background()

	var mode string
	if err := database.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal mode 'wal', got %q", mode)
	}

	// Two open result sets need two connections.
	first, err := database.QueryContext(ctx, "SELECT 1")
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	defer first.Close()
	second, err := database.QueryContext(ctx, "SELECT 2")
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	defer second.Close()
	if n := database.Stats().OpenConnections; n < 2 {
		t.Errorf("expected at least 2 open connections, got %d", n)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	database := NewTestFileDB(t)
	ctx := context.Background()

	if _, err := database.ExecContext(ctx, "CREATE TABLE uniq (code TEXT NOT NULL UNIQUE, n INT NOT NULL)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := database.ExecContext(ctx, "INSERT INTO uniq (code, n) VALUES (?, ?)", "A", 1); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, dupErr := database.ExecContext(ctx, "INSERT INTO uniq (code, n) VALUES (?, ?)", "A", 2)
	_, nullErr := database.ExecContext(ctx, "INSERT INTO uniq (code, n) VALUES (?, NULL)", "B")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite duplicate", dupErr, true},
		{"wrapped sqlite duplicate", fmt.Errorf("creating item: %w", dupErr), true},
		{"sqlite not null", nullErr, false},
		{"postgres duplicate", &pgconn.PgError{Code: "23505"}, true},
		{"postgres foreign key", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("UNIQUE constraint failed"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v (err %v)", tt.want, got, tt.err)
			}
		})
	}
}

func TestFileDBConcurrentWriters(t *testing.T) {
	database := NewTestFileDB(t)
	ctx := context.Background()
	if _, err := database.ExecContext(ctx, "CREATE TABLE counter (id INT PRIMARY KEY, n INT NOT NULL)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	database.ExecContext(ctx, "INSERT INTO counter (id, n) VALUES (1, 0)")

	const writers = 16
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := database.ExecContext(ctx, "UPDATE counter SET n = n + 1 WHERE id = 1"); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	var n int
	database.QueryRowContext(ctx, "SELECT n FROM counter WHERE id = 1").Scan(&n)
	if n != writers {
		t.Errorf("expected %d, got %d", writers, n)
	}
}
