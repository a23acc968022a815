// Package config provides Redis configuration for the housekeeping
// queue.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// RedisConfig holds Redis connection and worker parameters.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	Workers       int
	SweepInterval time.Duration
}

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultWorkers       = 5
	defaultSweepInterval = 10 * time.Minute
)

// NewRedisConfig creates a Redis configuration from environment
// variables. REDIS_URL takes precedence over the individual settings.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:          getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:          defaultPort,
		Password:      os.Getenv("REDIS_PASSWORD"),
		Workers:       defaultWorkers,
		SweepInterval: defaultSweepInterval,
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}

		cfg.Port = p
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}

		cfg.DB = d
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		parsed, err := url.Parse(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}

		if host := parsed.Hostname(); host != "" {
			cfg.Host = host
		}

		if port := parsed.Port(); port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				return nil, fmt.Errorf("invalid port in Redis URL: %w", err)
			}

			cfg.Port = p
		}

		if pass, ok := parsed.User.Password(); ok {
			cfg.Password = pass
		}
	}

	if interval := os.Getenv("STATE_SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid STATE_SWEEP_INTERVAL: %w", err)
		}

		cfg.SweepInterval = d
	}

	return cfg, nil
}

// GetRedisAddr returns the host:port address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether Redis is configured at all.
func Enabled() bool {
	return os.Getenv("REDIS_URL") != "" || os.Getenv("REDIS_HOST") != ""
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
