package db

import (
	"context"
	"fmt"
	"strings"
)

// sqliteSchema is the full SQLite schema.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id       TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id        TEXT PRIMARY KEY,
    display_name   TEXT NOT NULL DEFAULT '',
    role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS invites (
    id             TEXT PRIMARY KEY,
    code           TEXT NOT NULL UNIQUE,
    created_by     TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT 0,
    max_uses       INTEGER NOT NULL CHECK (max_uses > 0),
    uses           INTEGER NOT NULL DEFAULT 0 CHECK (uses >= 0 AND uses <= max_uses),
    expires_at     DATETIME,
    created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS invite_redemptions (
    id             TEXT PRIMARY KEY,
    invite_id      TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    role           TEXT NOT NULL CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT 0,
    redeemed_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invite_redemptions_user
    ON invite_redemptions(user_id, redeemed_at);

CREATE TABLE IF NOT EXISTS categories (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    category_id       TEXT NOT NULL DEFAULT '',
    code              TEXT NOT NULL UNIQUE,
    quantity          INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
    condition         TEXT NOT NULL DEFAULT 'good' CHECK (condition IN ('new', 'good', 'damaged')),
    location          TEXT NOT NULL DEFAULT '',
    image_url         TEXT,
    observations      TEXT,
    status            TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'loaned')),
    status_changed_at DATETIME NOT NULL,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
    id                 TEXT PRIMARY KEY,
    item_id            TEXT NOT NULL,
    item_name          TEXT NOT NULL,
    borrower_name      TEXT NOT NULL,
    ministry           TEXT NOT NULL,
    reason             TEXT NOT NULL DEFAULT '',
    loan_date          DATETIME NOT NULL,
    due_date           DATETIME NOT NULL,
    return_date        DATETIME,
    return_condition   TEXT CHECK (return_condition IN ('new', 'good', 'damaged')),
    consent            BOOLEAN NOT NULL,
    borrower_photo_url TEXT NOT NULL,
    signature_url      TEXT NOT NULL,
    created_by         TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_loans_item ON loans(item_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_one_active
    ON loans(item_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// postgresSchema mirrors sqliteSchema with Postgres column types.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id       TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id        TEXT PRIMARY KEY,
    display_name   TEXT NOT NULL DEFAULT '',
    role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invites (
    id             TEXT PRIMARY KEY,
    code           TEXT NOT NULL UNIQUE,
    created_by     TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT FALSE,
    max_uses       INTEGER NOT NULL CHECK (max_uses > 0),
    uses           INTEGER NOT NULL DEFAULT 0 CHECK (uses >= 0 AND uses <= max_uses),
    expires_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invite_redemptions (
    id             TEXT PRIMARY KEY,
    invite_id      TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    role           TEXT NOT NULL CHECK (role IN ('admin', 'user')),
    can_edit_items BOOLEAN NOT NULL DEFAULT FALSE,
    redeemed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invite_redemptions_user
    ON invite_redemptions(user_id, redeemed_at);

CREATE TABLE IF NOT EXISTS categories (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    category_id       TEXT NOT NULL DEFAULT '',
    code              TEXT NOT NULL UNIQUE,
    quantity          INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
    condition         TEXT NOT NULL DEFAULT 'good' CHECK (condition IN ('new', 'good', 'damaged')),
    location          TEXT NOT NULL DEFAULT '',
    image_url         TEXT,
    observations      TEXT,
    status            TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'loaned')),
    status_changed_at TIMESTAMPTZ NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
    id                 TEXT PRIMARY KEY,
    item_id            TEXT NOT NULL,
    item_name          TEXT NOT NULL,
    borrower_name      TEXT NOT NULL,
    ministry           TEXT NOT NULL,
    reason             TEXT NOT NULL DEFAULT '',
    loan_date          TIMESTAMPTZ NOT NULL,
    due_date           TIMESTAMPTZ NOT NULL,
    return_date        TIMESTAMPTZ,
    return_condition   TEXT CHECK (return_condition IN ('new', 'good', 'damaged')),
    consent            BOOLEAN NOT NULL,
    borrower_photo_url TEXT NOT NULL,
    signature_url      TEXT NOT NULL,
    created_by         TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_loans_item ON loans(item_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_one_active
    ON loans(item_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// migrations are applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{}

// EnsureSchema creates all tables and indexes if they don't already exist,
// then applies migrations.
func EnsureSchema(ctx context.Context, db *DB) error {
	schema := sqliteSchema
	if db.Dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
