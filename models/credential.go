package models

import (
	"context"
	"time"
)

// SecretPayload is the plaintext form of a stored credential: a mapping
// of field names to values (access_token, refresh_token, api_key, ...).
// It is never persisted or logged in this form.
type SecretPayload map[string]string

// EncryptedRecord is the at-rest form of a SecretPayload. All byte fields
// are base64 encoded. The IV is drawn fresh for every encryption and the
// auth tag must verify on decrypt.
type EncryptedRecord struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	KeyVersion int    `json:"key_version"`
}

// OwnerKey is the composite identity a vault entry is keyed by. Platform
// may be empty for credentials scoped to the (user, agent) pair alone.
type OwnerKey struct {
	UserID   string
	AgentID  string
	Platform string
}

// VaultEntry is one encrypted credential row. At most one entry exists
// per OwnerKey; a write with an existing key replaces the record.
type VaultEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	AgentID   string          `json:"agent_id"`
	Platform  string          `json:"platform"`
	Record    EncryptedRecord `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Key returns the entry's owner key.
func (e *VaultEntry) Key() OwnerKey {
	return OwnerKey{UserID: e.UserID, AgentID: e.AgentID, Platform: e.Platform}
}

// VaultRepository persists encrypted credential rows.
type VaultRepository interface {
	Get(ctx context.Context, key OwnerKey) (*VaultEntry, error)
	Save(ctx context.Context, entry *VaultEntry) error
	Delete(ctx context.Context, key OwnerKey) error
	Exists(ctx context.Context, key OwnerKey) (bool, error)
}
