package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Cache is a best-effort read-through JSON cache on top of Redis. A nil
// *Cache is valid and behaves as a disabled cache: gets miss, sets and
// deletes are no-ops. The authoritative store is always the database;
// nothing here may be treated as a source of truth.
type Cache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewCache connects to Redis from a URL and returns a cache with the given
// default TTL. An empty URL returns a nil cache (caching disabled).
func NewCache(ctx context.Context, redisURL string, defaultTTL time.Duration) (*Cache, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultDialTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client, ttl: defaultTTL}, nil
}

// Enabled reports whether a Redis backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// GetJSON unmarshals the cached value for key into dest. Returns false on
// a miss, on a disabled cache, or on any Redis error.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

// SetJSON stores value under key with the given TTL (default TTL when zero).
// Failures are swallowed; the cache is never load-bearing.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	_ = c.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys from the cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	_ = c.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key matching a glob pattern, e.g.
// "code_available:*". Used when a capacity change invalidates a whole
// family of availability entries.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}

// Ping checks connectivity for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return errors.New("cache disabled")
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
