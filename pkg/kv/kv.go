package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JiHungLin/skalds/pkg/log"
)

// Config holds KV connection configuration
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps the Redis client with the operations the control plane needs.
// All operations carry finite timeouts and retry on transient failures via
// the underlying client's retry policy.
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// Connect dials the KV store and verifies the connection
func Connect(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     10 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to kv at %s: %w", cfg.Addr, err)
	}

	c := &Client{
		rdb:    rdb,
		logger: log.WithComponent("kv"),
	}
	c.logger.Info().Str("addr", cfg.Addr).Msg("Connected to KV store")
	return c, nil
}

// NewFromClient wraps an existing Redis client. Used by tests to point the
// adapter at an in-process server.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, logger: log.WithComponent("kv")}
}

// Set stores a string value at key
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

// SetInt64 stores an integer value at key
func (c *Client) SetInt64(ctx context.Context, key string, value int64) error {
	return c.rdb.Set(ctx, key, strconv.FormatInt(value, 10), 0).Err()
}

// Get returns the string value at key, or "" if the key does not exist
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// GetInt64 returns the integer value at key. Missing or unparseable values
// yield (0, false, nil) so callers can treat them as absent samples.
func (c *Client) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// HSet sets a field in a hash
func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

// HGet returns a hash field value, or "" if absent
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// HGetAll returns the full contents of a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// HDel removes a field from a hash
func (c *Client) HDel(ctx context.Context, key, field string) error {
	return c.rdb.HDel(ctx, key, field).Err()
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// DeleteByPrefix scans and removes every key under the given prefix
func (c *Client) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys with prefix %s: %w", prefix, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping verifies connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
