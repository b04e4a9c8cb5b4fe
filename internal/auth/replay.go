package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache remembers token ids until they expire. Claim returns false if
// id was already claimed and has not yet expired.
type ReplayCache interface {
	Claim(ctx context.Context, id string, until time.Time) (bool, error)
}

// MemoryReplayCache is a ReplayCache for a single process.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryReplayCache creates an empty cache using now as its clock.
func NewMemoryReplayCache(now func() time.Time) *MemoryReplayCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayCache{entries: make(map[string]time.Time), now: now}
}

// Claim implements ReplayCache.
func (c *MemoryReplayCache) Claim(_ context.Context, id string, until time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
	if _, seen := c.entries[id]; seen {
		return false, nil
	}
	c.entries[id] = until
	return true, nil
}

// Len returns the number of unexpired ids held.
func (c *MemoryReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetNXClient is the subset of the Redis client used by RedisReplayCache.
type SetNXClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisReplayCache shares claimed ids between servers through Redis keys
// that expire with the token.
type RedisReplayCache struct {
	client SetNXClient
	prefix string
	now    func() time.Time
}

// NewRedisReplayCache creates a cache storing keys under prefix.
func NewRedisReplayCache(client SetNXClient, prefix string) *RedisReplayCache {
	return &RedisReplayCache{client: client, prefix: prefix, now: time.Now}
}

// Claim implements ReplayCache.
func (c *RedisReplayCache) Claim(ctx context.Context, id string, until time.Time) (bool, error) {
	ttl := until.Sub(c.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := c.client.SetNX(ctx, c.prefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim token id: %w", err)
	}
	return ok, nil
}
