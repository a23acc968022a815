package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/credguard/agent-vault/models"
)

// VaultRepository stores encrypted credential rows in SQLite.
type VaultRepository struct {
	db *sql.DB
}

func NewVaultRepository(db *sql.DB) *VaultRepository {
	return &VaultRepository{db: db}
}

var _ models.VaultRepository = (*VaultRepository)(nil)

type vaultRow struct {
	ID         string
	UserID     string
	AgentID    string
	Platform   string
	Ciphertext string
	IV         string
	AuthTag    string
	KeyVersion int
	CreatedAt  int64
	UpdatedAt  int64
}

func (r *VaultRepository) Get(ctx context.Context, key models.OwnerKey) (*models.VaultEntry, error) {
	const q = `
		SELECT id, user_id, agent_id, platform, ciphertext, iv, auth_tag, key_version, created_at, updated_at
		FROM vault_entries
		WHERE user_id = ? AND agent_id = ? AND platform = ?
	`

	var row vaultRow

	err := r.db.QueryRowContext(ctx, q, key.UserID, key.AgentID, key.Platform).Scan(
		&row.ID,
		&row.UserID,
		&row.AgentID,
		&row.Platform,
		&row.Ciphertext,
		&row.IV,
		&row.AuthTag,
		&row.KeyVersion,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	return rowToEntry(row), nil
}

func (r *VaultRepository) Save(ctx context.Context, entry *models.VaultEntry) error {
	const q = `
		INSERT INTO vault_entries
			(id, user_id, agent_id, platform, ciphertext, iv, auth_tag, key_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, agent_id, platform) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			key_version = excluded.key_version,
			updated_at = excluded.updated_at
	`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	entry.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, q,
		entry.ID,
		entry.UserID,
		entry.AgentID,
		entry.Platform,
		entry.Record.Ciphertext,
		entry.Record.IV,
		entry.Record.AuthTag,
		entry.Record.KeyVersion,
		entry.CreatedAt.Unix(),
		entry.UpdatedAt.Unix(),
	)

	return err
}

func (r *VaultRepository) Delete(ctx context.Context, key models.OwnerKey) error {
	const q = `DELETE FROM vault_entries WHERE user_id = ? AND agent_id = ? AND platform = ?`

	_, err := r.db.ExecContext(ctx, q, key.UserID, key.AgentID, key.Platform)

	return err
}

func (r *VaultRepository) Exists(ctx context.Context, key models.OwnerKey) (bool, error) {
	const q = `SELECT 1 FROM vault_entries WHERE user_id = ? AND agent_id = ? AND platform = ?`

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

func rowToEntry(row vaultRow) *models.VaultEntry {
	return &models.VaultEntry{
		ID:       row.ID,
		UserID:   row.UserID,
		AgentID:  row.AgentID,
		Platform: row.Platform,
		Record: models.EncryptedRecord{
			Ciphertext: row.Ciphertext,
			IV:         row.IV,
			AuthTag:    row.AuthTag,
			KeyVersion: row.KeyVersion,
		},
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC(),
	}
}
