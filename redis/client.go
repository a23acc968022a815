// Package redis wraps the asynq client and server used for
// housekeeping tasks.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/credguard/agent-vault/redis/config"
	"github.com/credguard/agent-vault/redis/tasks"
)

// Client wraps asynq client functionality.
type Client struct {
	client *asynq.Client
	cfg    *config.RedisConfig
}

// NewClient creates a client and verifies connectivity.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	if err := testConnection(cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{client: client, cfg: cfg}, nil
}

// EnqueueStateSweep schedules an immediate sweep of expired
// authorization states.
func (c *Client) EnqueueStateSweep(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, tasks.NewAuthStateSweepTask(), asynq.MaxRetry(2))
	if err != nil {
		return fmt.Errorf("failed to enqueue sweep task: %w", err)
	}

	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func testConnection(cfg *config.RedisConfig) error {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return rdb.Ping(ctx).Err()
}
