// Package cache mirrors the latest loop snapshot into Redis for out-of-process observers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"spreadbot-go/internal/engine"
)

// SnapshotCache stores one snapshot under a fixed key with a TTL. It implements engine.Publisher.
type SnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, addr, password string, db int, key string, ttl time.Duration) (*SnapshotCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return New(rdb, key, ttl), nil
}

// New wraps an existing client.
func New(client *redis.Client, key string, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, key: key, ttl: ttl}
}

// Publish overwrites the cached snapshot.
func (c *SnapshotCache) Publish(ctx context.Context, snap engine.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Latest reads the cached snapshot. The bool is false on a miss.
func (c *SnapshotCache) Latest(ctx context.Context) (engine.Snapshot, bool, error) {
	var snap engine.Snapshot
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Close releases the connection pool.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
