// Package vault is the credential vault: it encrypts secret payloads,
// persists them keyed by (user, agent[, platform]) and hands plaintext
// back only transiently on retrieval.
package vault

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/pkg/encryption"
)

// Vault composes the cipher engine with a repository backend.
type Vault struct {
	keyring *encryption.Keyring
	repo    models.VaultRepository
	logger  *zap.Logger
}

func New(keyring *encryption.Keyring, repo models.VaultRepository, logger *zap.Logger) *Vault {
	return &Vault{
		keyring: keyring,
		repo:    repo,
		logger:  logger,
	}
}

// Store encrypts the payload and upserts it under the owner key. An
// existing entry for the key is overwritten.
func (v *Vault) Store(ctx context.Context, key models.OwnerKey, payload models.SecretPayload) error {
	if err := validateKey(key); err != nil {
		return err
	}

	record, err := v.keyring.Encrypt(payload)
	if err != nil {
		return err
	}

	entry := &models.VaultEntry{
		UserID:   key.UserID,
		AgentID:  key.AgentID,
		Platform: key.Platform,
		Record:   record,
	}

	if err := v.repo.Save(ctx, entry); err != nil {
		v.logger.Error("failed to persist vault entry",
			zap.String("user_id", key.UserID),
			zap.String("agent_id", key.AgentID),
			zap.String("platform", key.Platform),
			zap.Error(err))

		return &models.StorageError{Op: "store", Err: err}
	}

	v.logger.Info("stored credential",
		zap.String("user_id", key.UserID),
		zap.String("agent_id", key.AgentID),
		zap.String("platform", key.Platform),
		zap.Int("key_version", record.KeyVersion))

	return nil
}

// Retrieve decrypts and returns the payload for the owner key. A missing
// entry is ErrNotFound; an undecryptable one is a CryptoError, so callers
// never mistake corruption for absence.
func (v *Vault) Retrieve(ctx context.Context, key models.OwnerKey) (models.SecretPayload, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	entry, err := v.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}

		return nil, &models.StorageError{Op: "retrieve", Err: err}
	}

	payload, err := v.keyring.Decrypt(entry.Record)
	if err != nil {
		v.logger.Error("failed to decrypt vault entry",
			zap.String("user_id", key.UserID),
			zap.String("agent_id", key.AgentID),
			zap.String("platform", key.Platform),
			zap.Int("key_version", entry.Record.KeyVersion))

		return nil, err
	}

	return payload, nil
}

// Delete removes the entry for the owner key. Deleting a nonexistent
// entry is not an error.
func (v *Vault) Delete(ctx context.Context, key models.OwnerKey) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := v.repo.Delete(ctx, key); err != nil {
		return &models.StorageError{Op: "delete", Err: err}
	}

	return nil
}

// Exists reports whether an entry is stored for the owner key without
// decrypting it.
func (v *Vault) Exists(ctx context.Context, key models.OwnerKey) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := v.repo.Exists(ctx, key)
	if err != nil {
		return false, &models.StorageError{Op: "exists", Err: err}
	}

	return ok, nil
}

func validateKey(key models.OwnerKey) error {
	var missing []string

	if key.UserID == "" {
		missing = append(missing, "user_id")
	}

	if key.AgentID == "" {
		missing = append(missing, "agent_id")
	}

	if len(missing) > 0 {
		return &models.ValidationError{Fields: missing}
	}

	return nil
}
