package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/credguard/agent-vault/models"
)

// VaultRepository stores encrypted credential rows. The unique index on
// (user_id, agent_id, platform) makes concurrent saves for the same key
// serialize to a single surviving row; last writer wins.
type VaultRepository struct {
	db *sql.DB
}

func NewVaultRepository(db *sql.DB) *VaultRepository {
	return &VaultRepository{db: db}
}

var _ models.VaultRepository = (*VaultRepository)(nil)

func (r *VaultRepository) Get(ctx context.Context, key models.OwnerKey) (*models.VaultEntry, error) {
	const q = `
		SELECT id, user_id, agent_id, platform, ciphertext, iv, auth_tag, key_version, created_at, updated_at
		FROM vault_entries
		WHERE user_id = $1 AND agent_id = $2 AND platform = $3
	`

	var e models.VaultEntry

	err := r.db.QueryRowContext(ctx, q, key.UserID, key.AgentID, key.Platform).Scan(
		&e.ID,
		&e.UserID,
		&e.AgentID,
		&e.Platform,
		&e.Record.Ciphertext,
		&e.Record.IV,
		&e.Record.AuthTag,
		&e.Record.KeyVersion,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	return &e, nil
}

func (r *VaultRepository) Save(ctx context.Context, entry *models.VaultEntry) error {
	const q = `
		INSERT INTO vault_entries
			(id, user_id, agent_id, platform, ciphertext, iv, auth_tag, key_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, agent_id, platform) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			iv = EXCLUDED.iv,
			auth_tag = EXCLUDED.auth_tag,
			key_version = EXCLUDED.key_version,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	entry.UpdatedAt = now

	return r.db.QueryRowContext(ctx, q,
		entry.ID,
		entry.UserID,
		entry.AgentID,
		entry.Platform,
		entry.Record.Ciphertext,
		entry.Record.IV,
		entry.Record.AuthTag,
		entry.Record.KeyVersion,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Scan(&entry.ID)
}

func (r *VaultRepository) Delete(ctx context.Context, key models.OwnerKey) error {
	const q = `DELETE FROM vault_entries WHERE user_id = $1 AND agent_id = $2 AND platform = $3`

	_, err := r.db.ExecContext(ctx, q, key.UserID, key.AgentID, key.Platform)

	return err
}

func (r *VaultRepository) Exists(ctx context.Context, key models.OwnerKey) (bool, error) {
	const q = `SELECT 1 FROM vault_entries WHERE user_id = $1 AND agent_id = $2 AND platform = $3`

	var one int

	err := r.db.QueryRowContext(ctx, q, key.UserID, key.AgentID, key.Platform).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
