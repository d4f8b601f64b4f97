// Package feature computes declared features: derived expressions, window
// aggregations over a data source, and keyed lookups. Concurrent identical
// computations coalesce, and TTL cache policies can be served from memory
// or Redis.
package feature

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corintai/corint/internal/value"
)

// Cache stores computed feature values under a TTL policy.
type Cache interface {
	Get(ctx context.Context, key string) (value.Value, bool, error)
	Set(ctx context.Context, key string, v value.Value, ttl time.Duration) error
}

type cacheEntry struct {
	value     value.Value
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Expired entries are dropped
// lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	clock   func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]cacheEntry{}, clock: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (value.Value, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return value.Null(), false, nil
	}
	if c.clock().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return value.Null(), false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, v value.Value, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: v, expiresAt: c.clock().Add(ttl)}
	return nil
}

// RedisCache serves TTL-cached features from Redis, for deployments where
// several engine instances share feature state.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps a Redis client. Keys are namespaced under the prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "corint:feature:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (value.Value, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return value.Null(), false, err
	}
	return value.FromAny(decoded), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v value.Value, ttl time.Duration) error {
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}
