// Package postgres implements the persistence backends over PostgreSQL
// using the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// Open connects to PostgreSQL and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS vault_entries (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		ciphertext TEXT NOT NULL,
		iv TEXT NOT NULL,
		auth_tag TEXT NOT NULL,
		key_version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, agent_id, platform)
	);

	CREATE TABLE IF NOT EXISTS authorization_states (
		id UUID PRIMARY KEY,
		state_token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		code_verifier TEXT NOT NULL DEFAULT '',
		redirect_uri TEXT NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_authorization_states_expires_at
		ON authorization_states (expires_at) WHERE NOT is_completed;

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
