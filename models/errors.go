package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the requested record does not exist. It is a
	// valid outcome, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedPlatform indicates the platform slug has no provider
	// configuration.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrStateInvalid indicates an unknown or already consumed
	// authorization state token.
	ErrStateInvalid = errors.New("invalid or expired state")

	// ErrStateExpired indicates the authorization state outlived its
	// expiry before the callback arrived.
	ErrStateExpired = errors.New("authorization expired")
)

// ConfigError indicates missing or malformed process configuration. It is
// fatal to the operation that needed the value, not to the process.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config error: " + e.Reason
	}

	return fmt.Sprintf("config error for %s: %s", e.Key, e.Reason)
}

// CryptoError indicates an encryption or decryption failure, including
// tag verification failures. Decryption always fails closed.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return "crypto error during " + e.Op
	}

	return fmt.Sprintf("crypto error during %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// StorageError indicates a persistence backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TokenExchangeError indicates a non-2xx or malformed response from a
// provider token endpoint. The provider response body is never carried
// here; it is logged server-side only.
type TokenExchangeError struct {
	Platform string
	Err      error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed for %s: %v", e.Platform, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// ValidationError indicates malformed caller input, such as missing
// required fields for a manually entered credential.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}

	return "missing required fields: " + strings.Join(e.Fields, ", ")
}
