package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores rendered response bodies for the expensive full-catalog
// endpoints. Serving a cached body within its TTL is within the staleness
// window the store already allows between sync cycles.
type Cache interface {
	// Get returns a cached body, or ok=false on a miss.
	Get(ctx context.Context, key string) (body []byte, ok bool)

	// Set stores a body. Failures are silent; the cache is best-effort.
	Set(ctx context.Context, key string, body []byte)
}

// NewNullCache returns a cache that never hits. Used when no Redis address
// is configured.
func NewNullCache() Cache { return nullCache{} }

type nullCache struct{}

func (nullCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (nullCache) Set(context.Context, string, []byte)        {}

// RedisCache is a Redis-backed response cache with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis at addr and caches bodies for ttl.
// A non-positive ttl disables caching; callers should pass a NullCache
// instead in that case, but it is tolerated here.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	body, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *RedisCache) Set(ctx context.Context, key string, body []byte) {
	if c.ttl <= 0 {
		return
	}
	_ = c.client.Set(ctx, key, body, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
