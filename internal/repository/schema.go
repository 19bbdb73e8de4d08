package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// The CHECK constraints repeat the quantity invariants so a bug above the
// store cannot persist a negative shelf count or an empty loan.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('normal', 'manager')),
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		author   TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		book_id    TEXT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		type       TEXT NOT NULL CHECK (type IN ('borrow', 'return')),
		status     TEXT NOT NULL CHECK (status IN ('active', 'returned')),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_book_active ON transactions (book_id) WHERE status = 'active'`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('normal', 'manager')),
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		author   TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		book_id    TEXT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		type       TEXT NOT NULL CHECK (type IN ('borrow', 'return')),
		status     TEXT NOT NULL CHECK (status IN ('active', 'returned')),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_book_active ON transactions (book_id) WHERE status = 'active'`,
}

// Migrate creates the tables if they do not exist. It is safe to run on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts := postgresSchema
	if db.DriverName() == "sqlite3" {
		stmts = sqliteSchema
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return tx.Commit()
}
