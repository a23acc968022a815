// Package sqlite implements the persistence backends over SQLite for
// single-binary local deployments. Timestamps are stored as Unix epochs.
package sqlite

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()

			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS vault_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		ciphertext TEXT NOT NULL,
		iv TEXT NOT NULL,
		auth_tag TEXT NOT NULL,
		key_version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (user_id, agent_id, platform)
	);

	CREATE TABLE IF NOT EXISTS authorization_states (
		id TEXT PRIMARY KEY,
		state_token TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		code_verifier TEXT NOT NULL DEFAULT '',
		redirect_uri TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.Exec(schema)

	return err
}
