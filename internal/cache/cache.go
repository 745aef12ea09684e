// Package cache provides the namespaced cache port used for workflow
// definition lookups, with in-memory and Redis implementations.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores string values under (namespace, key). A namespace can be
// dropped as a whole, which is how definition edits invalidate lookups.
type Cache interface {
	// Get returns the value for key in namespace. found is false on a miss.
	Get(ctx context.Context, namespace, key string) (value string, found bool, err error)

	// Set stores value for key in namespace.
	Set(ctx context.Context, namespace, key, value string) error

	// Clear drops every key of the given namespaces.
	Clear(ctx context.Context, namespaces ...string) error

	// ClearPrefix drops every namespace whose name starts with prefix.
	ClearPrefix(ctx context.Context, prefix string) error
}

// --- MemoryCache ---

// MemoryCache is an in-process Cache. Suitable for tests and single-instance
// deployments.
type MemoryCache struct {
	ttl time.Duration

	mu         sync.RWMutex
	namespaces map[string]*memNamespace
}

type memNamespace struct {
	values    map[string]string
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache. A non-zero ttl expires a
// namespace that long after its last write.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:        ttl,
		namespaces: make(map[string]*memNamespace),
	}
}

// Get returns a cached value.
func (c *MemoryCache) Get(_ context.Context, namespace, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[namespace]
	if !ok || c.expired(ns) {
		return "", false, nil
	}
	v, ok := ns.values[key]
	return v, ok, nil
}

// Set stores a value.
func (c *MemoryCache) Set(_ context.Context, namespace, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok || c.expired(ns) {
		ns = &memNamespace{values: make(map[string]string)}
		c.namespaces[namespace] = ns
	}
	if c.ttl > 0 {
		ns.expiresAt = time.Now().Add(c.ttl)
	}
	ns.values[key] = value
	return nil
}

// Clear drops whole namespaces.
func (c *MemoryCache) Clear(_ context.Context, namespaces ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range namespaces {
		delete(c.namespaces, ns)
	}
	return nil
}

// ClearPrefix drops every namespace starting with prefix.
func (c *MemoryCache) ClearPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.namespaces {
		if strings.HasPrefix(name, prefix) {
			delete(c.namespaces, name)
		}
	}
	return nil
}

// Len returns the number of live namespaces. For testing.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.namespaces)
}

func (c *MemoryCache) expired(ns *memNamespace) bool {
	return !ns.expiresAt.IsZero() && time.Now().After(ns.expiresAt)
}

// --- RedisCache ---

// RedisCache stores each namespace as a Redis hash named "<prefix><namespace>".
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. keyPrefix isolates this
// deployment's hashes; a non-zero ttl is reset on
// each write to a hash.
func NewRedisCache(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix, ttl: ttl}
}

// Ping checks that the Redis server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) hashKey(namespace string) string {
	return c.prefix + namespace
}

// Get reads one hash field.
func (c *RedisCache) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := c.client.HGet(ctx, c.hashKey(namespace), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %q: %w", c.hashKey(namespace), err)
	}
	return v, true, nil
}

// Set writes one hash field.
func (c *RedisCache) Set(ctx context.Context, namespace, key, value string) error {
	hk := c.hashKey(namespace)
	if c.ttl <= 0 {
		if err := c.client.HSet(ctx, hk, key, value).Err(); err != nil {
			return fmt.Errorf("redis hset %q: %w", hk, err)
		}
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hk, key, value)
		pipe.Expire(ctx, hk, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset %q: %w", hk, err)
	}
	return nil
}

// Clear deletes whole hashes.
func (c *RedisCache) Clear(ctx context.Context, namespaces ...string) error {
	if len(namespaces) == 0 {
		return nil
	}
	keys := make([]string, len(namespaces))
	for i, ns := range namespaces {
		keys[i] = c.hashKey(ns)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ClearPrefix deletes every hash whose namespace starts with prefix.
func (c *RedisCache) ClearPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, c.hashKey(prefix)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
