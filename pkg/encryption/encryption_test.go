package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credguard/agent-vault/models"
)

func testKeyHex(t *testing.T) string {
	t.Helper()

	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	return hex.EncodeToString(key)
}

func testKeyring(t *testing.T) *Keyring {
	t.Helper()

	kr, err := NewKeyring(map[int]string{1: testKeyHex(t)}, 1)
	require.NoError(t, err)

	return kr
}

func TestNewKeyring_Validation(t *testing.T) {
	var confErr *models.ConfigError

	_, err := NewKeyring(nil, 1)
	require.ErrorAs(t, err, &confErr)

	_, err = NewKeyring(map[int]string{1: "not-hex"}, 1)
	require.ErrorAs(t, err, &confErr)

	_, err = NewKeyring(map[int]string{1: "deadbeef"}, 1)
	require.ErrorAs(t, err, &confErr)

	_, err = NewKeyring(map[int]string{1: testKeyHex(t)}, 2)
	require.ErrorAs(t, err, &confErr)
}

func TestParseKeySpec(t *testing.T) {
	keys, err := ParseKeySpec("v1:aabb, v2:ccdd")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "aabb", 2: "ccdd"}, keys)

	_, err = ParseKeySpec("")
	assert.Error(t, err)

	_, err = ParseKeySpec("aabb")
	assert.Error(t, err)

	_, err = ParseKeySpec("v1:aa,v1:bb")
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kr := testKeyring(t)

	payloads := []models.SecretPayload{
		{"access_token": "ya29.secret", "refresh_token": "1//refresh"},
		{"api_key": "sk-test-123"},
		{"empty": ""},
		{},
	}

	for _, payload := range payloads {
		record, err := kr.Encrypt(payload)
		require.NoError(t, err)
		assert.Equal(t, 1, record.KeyVersion)

		got, err := kr.Decrypt(record)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	kr := testKeyring(t)

	record, err := kr.Encrypt(models.SecretPayload{"access_token": "secret"})
	require.NoError(t, err)

	flipBit := func(encoded string) string {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)

		raw[0] ^= 0x01

		return base64.StdEncoding.EncodeToString(raw)
	}

	var cryptoErr *models.CryptoError

	tampered := record
	tampered.Ciphertext = flipBit(record.Ciphertext)
	_, err = kr.Decrypt(tampered)
	require.ErrorAs(t, err, &cryptoErr)

	tampered = record
	tampered.AuthTag = flipBit(record.AuthTag)
	_, err = kr.Decrypt(tampered)
	require.ErrorAs(t, err, &cryptoErr)

	tampered = record
	tampered.IV = flipBit(record.IV)
	_, err = kr.Decrypt(tampered)
	require.ErrorAs(t, err, &cryptoErr)
}

func TestDecrypt_WrongKey(t *testing.T) {
	kr1 := testKeyring(t)
	kr2 := testKeyring(t)

	record, err := kr1.Encrypt(models.SecretPayload{"access_token": "secret"})
	require.NoError(t, err)

	var cryptoErr *models.CryptoError

	_, err = kr2.Decrypt(record)
	require.ErrorAs(t, err, &cryptoErr)
}

func TestDecrypt_UnknownVersion(t *testing.T) {
	kr := testKeyring(t)

	record, err := kr.Encrypt(models.SecretPayload{"access_token": "secret"})
	require.NoError(t, err)

	record.KeyVersion = 99

	var cryptoErr *models.CryptoError

	_, err = kr.Decrypt(record)
	require.ErrorAs(t, err, &cryptoErr)
}

func TestDecrypt_VersionDispatch(t *testing.T) {
	oldKey := testKeyHex(t)

	oldRing, err := NewKeyring(map[int]string{1: oldKey}, 1)
	require.NoError(t, err)

	record, err := oldRing.Encrypt(models.SecretPayload{"access_token": "old-secret"})
	require.NoError(t, err)

	// Rotated ring: new writes go to v2, v1 records stay readable.
	newRing, err := NewKeyring(map[int]string{1: oldKey, 2: testKeyHex(t)}, 2)
	require.NoError(t, err)

	got, err := newRing.Decrypt(record)
	require.NoError(t, err)
	assert.Equal(t, "old-secret", got["access_token"])

	fresh, err := newRing.Encrypt(models.SecretPayload{"access_token": "new-secret"})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.KeyVersion)
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	kr := testKeyring(t)
	payload := models.SecretPayload{"access_token": "secret"}

	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		record, err := kr.Encrypt(payload)
		require.NoError(t, err)

		if _, dup := seen[record.IV]; dup {
			t.Fatalf("duplicate IV after %d encryptions", i)
		}

		seen[record.IV] = struct{}{}
	}
}
