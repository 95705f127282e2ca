// Package cache implements the credit snapshot cache on Redis.
//
// Each user has a single JSON-encoded snapshot under "credits:user:<id>"
// with a bounded TTL on the order of the flush interval. The TTL is what
// bounds both read staleness and the lag of the daily-refresh check, so it
// should stay short.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/credits"
)

const keyPrefix = "credits:user:"

// Redis is a credits.Cache backed by a Redis client.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// New creates a Redis cache storing snapshots with the given TTL.
func New(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		log:    logger.With().Str("component", "cache").Logger(),
	}
}

// NewClient builds a Redis client tuned for the hot path: tight dial and
// read/write timeouts so a slow Redis degrades to a cache miss instead of
// stalling requests.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,

		DialTimeout:  10 * time.Millisecond,
		ReadTimeout:  20 * time.Millisecond,
		WriteTimeout: 20 * time.Millisecond,

		PoolSize:     100,
		MinIdleConns: 25,

		PoolTimeout:        30 * time.Second,
		IdleTimeout:        5 * time.Minute,
		IdleCheckFrequency: 1 * time.Minute,
	})
}

func key(userID string) string {
	return keyPrefix + userID
}

// Get returns the cached snapshot, or credits.ErrCacheMiss when absent.
// A corrupt entry is deleted and reported as a miss.
func (c *Redis) Get(ctx context.Context, userID string) (credits.Snapshot, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if err == redis.Nil {
		return credits.Snapshot{}, credits.ErrCacheMiss
	}
	if err != nil {
		return credits.Snapshot{}, fmt.Errorf("redis get: %w", err)
	}

	var snap credits.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("corrupt cache entry, dropping")
		c.client.Del(ctx, key(userID))
		return credits.Snapshot{}, credits.ErrCacheMiss
	}
	return snap, nil
}

// Set stores the snapshot under the user's key with the configured TTL.
func (c *Redis) Set(ctx context.Context, userID string, snap credits.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate removes the user's snapshot so the next read hits the store.
func (c *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
