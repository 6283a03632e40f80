// Package data provides caching functionality.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexherrero/sherwood/backend/broker"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/redis/go-redis/v9"
)

// Cache provides a generic key/value cache with expiration.
type Cache interface {
	// Get retrieves a value from the cache.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an expiration.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}

// MemoryCache is a simple in-memory cache implementation, suitable for a
// single-instance deployment or tests. Multi-instance deployments should
// use RedisCache so every instance observes the same cached values.
type MemoryCache struct {
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, exists := c.data[key]
	if !exists {
		return nil, fmt.Errorf("key not found: %s", key)
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, fmt.Errorf("key expired: %s", key)
	}

	return entry.value, nil
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(expiration),
	}
	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

// RedisCache is the multi-instance Cache implementation; every API/execution
// process instance shares the same view, which matters for the account-info
// snapshot CachedAccountInfoProvider below.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("key not found: %s", key)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value in Redis with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// CachedAccountInfoProvider wraps a broker.Connector's account-info lookup
// with a short-TTL cache, so a burst of order submissions against the same
// account doesn't hammer the broker for a fresh snapshot on every risk
// check.
type CachedAccountInfoProvider struct {
	connector broker.Connector
	cache     Cache
	ttl       time.Duration
}

// NewCachedAccountInfoProvider wraps connector's GetAccountInfo with cache.
func NewCachedAccountInfoProvider(connector broker.Connector, cache Cache, ttl time.Duration) *CachedAccountInfoProvider {
	return &CachedAccountInfoProvider{connector: connector, cache: cache, ttl: ttl}
}

// GetAccountInfo returns the cached snapshot if fresh, otherwise refreshes
// it from the broker and re-caches.
func (c *CachedAccountInfoProvider) GetAccountInfo(ctx context.Context, accountID string) (*models.AccountInfo, error) {
	key := fmt.Sprintf("account_info:%s", accountID)

	if data, err := c.cache.Get(ctx, key); err == nil {
		var info models.AccountInfo
		if err := json.Unmarshal(data, &info); err == nil {
			return &info, nil
		}
	}

	info, err := c.connector.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(info); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}

	return info, nil
}
