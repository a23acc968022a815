// Package config provides lazy access to process configuration.
// Environment variables always win; an optional system_config table can
// back them so deployments with a database can change values without a
// restart. Lookups are resolved at call time, so resolution errors
// surface at first use rather than at startup.
package config

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/credguard/agent-vault/models"
)

// Service resolves configuration values by dotted key. The env var name
// is derived by uppercasing the key and replacing dots with underscores,
// so "google_analytics.client_id" reads GOOGLE_ANALYTICS_CLIENT_ID.
type Service struct {
	db    *sql.DB
	env   func(string) string
	mu    sync.RWMutex
	cache map[string]cachedEntry
}

type cachedEntry struct {
	value     string
	expiresAt time.Time
}

const defaultTTL = time.Minute

// New creates a config service. db may be nil, in which case only the
// environment is consulted.
func New(db *sql.DB, env func(string) string) *Service {
	return &Service{db: db, env: env, cache: make(map[string]cachedEntry)}
}

// GetString returns a string config value, or defaultValue when unset.
func (s *Service) GetString(ctx context.Context, key, defaultValue string) (string, error) {
	if v, ok := s.envOverride(key); ok {
		return v, nil
	}

	if v, ok := s.getFromCache(key); ok {
		return v, nil
	}

	if s.db == nil {
		return defaultValue, nil
	}

	const q = `SELECT value FROM system_config WHERE key = $1 LIMIT 1`

	var v string

	err := s.db.QueryRowContext(ctx, q, key).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return defaultValue, nil
		}

		return "", err
	}

	s.putInCache(key, v)

	return v, nil
}

// GetRequiredString returns a value or a ConfigError when it resolves
// empty. Used for per-provider client credentials, which must be present
// by the time a flow touches them but not necessarily at startup.
func (s *Service) GetRequiredString(ctx context.Context, key string) (string, error) {
	v, err := s.GetString(ctx, key, "")
	if err != nil {
		return "", err
	}

	if v == "" {
		return "", &models.ConfigError{Key: key, Reason: "not set"}
	}

	return v, nil
}

// GetBool returns a boolean config value.
func (s *Service) GetBool(ctx context.Context, key string, defaultValue bool) (bool, error) {
	v, err := s.GetString(ctx, key, "")
	if err != nil {
		return false, err
	}

	if v == "" {
		return defaultValue, nil
	}

	return strings.EqualFold(v, "true") || v == "1", nil
}

// GetInt returns an integer config value; unparseable values fall back
// to defaultValue.
func (s *Service) GetInt(ctx context.Context, key string, defaultValue int) (int, error) {
	v, err := s.GetString(ctx, key, "")
	if err != nil {
		return 0, err
	}

	parsed, perr := strconv.Atoi(strings.TrimSpace(v))
	if v == "" || perr != nil {
		return defaultValue, nil
	}

	return parsed, nil
}

func (s *Service) envOverride(key string) (string, bool) {
	envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if v := s.env(envKey); v != "" {
		return v, true
	}

	return "", false
}

func (s *Service) getFromCache(key string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()

		return "", false
	}

	return entry.value, true
}

func (s *Service) putInCache(key, value string) {
	s.mu.Lock()
	s.cache[key] = cachedEntry{value: value, expiresAt: time.Now().Add(defaultTTL)}
	s.mu.Unlock()
}
