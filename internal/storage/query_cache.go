package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-scanner/internal/errors"
)

const queryCachePrefix = "query:"

// QueryCache stores serialized query results in Redis under a short TTL. It
// satisfies the engine's ResultCache interface; a miss is (nil, nil).
type QueryCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewQueryCache creates a query result cache
func NewQueryCache(cache *RedisCache, ttl time.Duration) *QueryCache {
	return &QueryCache{cache: cache, ttl: ttl}
}

// Get retrieves a cached result payload
func (c *QueryCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.cache.Get(ctx, queryCachePrefix+key)
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.NewCacheError("get", err)
	}
	return []byte(data), nil
}

// Set stores a result payload with the configured TTL
func (c *QueryCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.cache.Set(ctx, queryCachePrefix+key, payload, c.ttl); err != nil {
		return errors.NewCacheError("set", err)
	}
	return nil
}

// Invalidate drops every cached query result. Import runs call this after
// writing, so cached results never outlive the snapshots they were built from
// by more than one run.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	keys, err := c.cache.Keys(ctx, queryCachePrefix+"*")
	if err != nil {
		return errors.NewCacheError("invalidate", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.cache.Del(ctx, keys...); err != nil {
		return errors.NewCacheError("invalidate", err)
	}
	return nil
}
