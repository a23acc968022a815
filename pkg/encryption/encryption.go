// Package encryption implements the authenticated encryption used for
// credentials at rest: AES-256-GCM under a versioned keyring, with a
// fresh random IV per encryption and a fail-closed decrypt.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/credguard/agent-vault/models"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 16
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Keyring holds all decryption keys by version plus the version new
// encryptions are written under. It is immutable after construction and
// safe for unsynchronized concurrent use.
type Keyring struct {
	aeads   map[int]cipher.AEAD
	current int
}

// NewKeyring builds a keyring from hex-encoded keys. Every key must
// decode to exactly 32 bytes and the active version must be present;
// violations are ConfigErrors. Key material is never logged.
func NewKeyring(hexKeys map[int]string, active int) (*Keyring, error) {
	if len(hexKeys) == 0 {
		return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: "no encryption keys configured"}
	}

	aeads := make(map[int]cipher.AEAD, len(hexKeys))

	for version, hexKey := range hexKeys {
		key, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, &models.ConfigError{
				Key:    "VAULT_KEYS",
				Reason: fmt.Sprintf("key v%d is not valid hex", version),
			}
		}

		if len(key) != KeySize {
			return nil, &models.ConfigError{
				Key:    "VAULT_KEYS",
				Reason: fmt.Sprintf("key v%d must decode to exactly %d bytes, got %d", version, KeySize, len(key)),
			}
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: err.Error()}
		}

		gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
		if err != nil {
			return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: err.Error()}
		}

		aeads[version] = gcm
	}

	if _, ok := aeads[active]; !ok {
		return nil, &models.ConfigError{
			Key:    "VAULT_ACTIVE_KEY_VERSION",
			Reason: fmt.Sprintf("active key version %d has no key", active),
		}
	}

	return &Keyring{aeads: aeads, current: active}, nil
}

// ParseKeySpec parses the configured key list, formatted as
// "v1:<hex>,v2:<hex>,...".
func ParseKeySpec(spec string) (map[int]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: "not set"}
	}

	keys := make(map[int]string)

	for _, part := range strings.Split(spec, ",") {
		label, hexKey, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || !strings.HasPrefix(label, "v") {
			return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: "entries must look like v1:<hex key>"}
		}

		version, err := strconv.Atoi(label[1:])
		if err != nil {
			return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: "invalid key version " + label}
		}

		if _, dup := keys[version]; dup {
			return nil, &models.ConfigError{Key: "VAULT_KEYS", Reason: "duplicate key version " + label}
		}

		keys[version] = hexKey
	}

	return keys, nil
}

// ActiveVersion returns the version new encryptions are written under.
func (k *Keyring) ActiveVersion() int { return k.current }

// Encrypt serializes the payload to canonical JSON and encrypts it under
// the active key with a fresh random IV. The IV is generated here and
// never accepted from the caller.
func (k *Keyring) Encrypt(payload models.SecretPayload) (models.EncryptedRecord, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return models.EncryptedRecord{}, &models.CryptoError{Op: "encrypt", Err: err}
	}

	gcm := k.aeads[k.current]

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return models.EncryptedRecord{}, &models.CryptoError{Op: "encrypt", Err: err}
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return models.EncryptedRecord{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		KeyVersion: k.current,
	}, nil
}

// Decrypt authenticates and decrypts a record using the key declared by
// its version. Tampered ciphertext, a wrong key, or a missing key version
// all fail with a CryptoError and no plaintext.
func (k *Keyring) Decrypt(record models.EncryptedRecord) (models.SecretPayload, error) {
	gcm, ok := k.aeads[record.KeyVersion]
	if !ok {
		return nil, &models.CryptoError{
			Op:  "decrypt",
			Err: fmt.Errorf("no key for version %d", record.KeyVersion),
		}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		return nil, &models.CryptoError{Op: "decrypt", Err: err}
	}

	iv, err := base64.StdEncoding.DecodeString(record.IV)
	if err != nil {
		return nil, &models.CryptoError{Op: "decrypt", Err: err}
	}

	tag, err := base64.StdEncoding.DecodeString(record.AuthTag)
	if err != nil {
		return nil, &models.CryptoError{Op: "decrypt", Err: err}
	}

	if len(iv) != IVSize {
		return nil, &models.CryptoError{Op: "decrypt", Err: errors.New("invalid iv length")}
	}

	if len(tag) != TagSize {
		return nil, &models.CryptoError{Op: "decrypt", Err: errors.New("invalid auth tag length")}
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, &models.CryptoError{Op: "decrypt", Err: err}
	}

	var payload models.SecretPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, &models.CryptoError{Op: "decrypt", Err: err}
	}

	return payload, nil
}
