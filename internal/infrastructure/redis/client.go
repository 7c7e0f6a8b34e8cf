package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
)

// connectTimeout is the maximum time to wait for the initial connection check.
const connectTimeout = 5 * time.Second

// Client wraps go-redis with Nimbus-specific functionality.
//
// It provides connection lifecycle management and health checks for the
// durable key-value store backing the device registry, pairing requests,
// alert cooldowns, and the undelivered-alert queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines
//     (go-redis clients are goroutine-safe).
type Client struct {
	rdb       *goredis.Client
	opTimeout time.Duration
}

// Connect creates a Redis client and verifies the connection with a ping.
//
// Parameters:
//   - ctx: Context for the initial connectivity check
//   - cfg: Redis configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the store is unreachable within the connect timeout
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opTimeout := time.Duration(cfg.OpTimeout) * time.Second
	if opTimeout <= 0 {
		opTimeout = connectTimeout
	}

	return &Client{
		rdb:       rdb,
		opTimeout: opTimeout,
	}, nil
}

// DB returns the underlying go-redis client for store implementations.
func (c *Client) DB() *goredis.Client {
	return c.rdb
}

// OpContext derives a context bounded by the configured per-operation timeout.
// Store implementations use it so a slow store surfaces as a transient
// failure rather than stalling the ingestion path.
func (c *Client) OpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// HealthCheck verifies the Redis connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close closes the Redis connection gracefully.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
