package deliveryfee

import (
	"context"
	"strconv"
	"time"
)

const cacheScope = "delivery_fee"

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

// redisQuoteCache stores external quotes in redis with the configured TTL.
type redisQuoteCache struct {
	store cacheStore
	ttl   time.Duration
}

// NewRedisQuoteCache builds the redis-backed quote cache.
func NewRedisQuoteCache(store cacheStore, ttl time.Duration) QuoteCache {
	if store == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &redisQuoteCache{store: store, ttl: ttl}
}

func (c *redisQuoteCache) GetFee(ctx context.Context, key string) (int64, bool) {
	raw, err := c.store.Get(ctx, c.store.CacheKey(cacheScope, key))
	if err != nil {
		return 0, false
	}
	fee, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return fee, true
}

func (c *redisQuoteCache) SetFee(ctx context.Context, key string, fee int64) {
	_ = c.store.Set(ctx, c.store.CacheKey(cacheScope, key), strconv.FormatInt(fee, 10), c.ttl)
}
