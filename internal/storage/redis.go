package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCountCache is a CountCache shared between sentinel instances through
// Redis. Redis errors degrade to cache misses.
type RedisCountCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCountCache creates a RedisCountCache. Keys are namespaced under
// "sentinel:freq:".
func NewRedisCountCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCountCache {
	return &RedisCountCache{rdb: rdb, ttl: ttl, prefix: "sentinel:freq:", logger: logger}
}

// Get implements CountCache.
func (c *RedisCountCache) Get(ctx context.Context, key string) (int, bool) {
	n, err := c.rdb.Get(ctx, c.prefix+key).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis frequency lookup failed (non-fatal)", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}
	return n, true
}

// Set implements CountCache.
func (c *RedisCountCache) Set(ctx context.Context, key string, n int) {
	if err := c.rdb.Set(ctx, c.prefix+key, n, c.ttl).Err(); err != nil {
		c.logger.Warn("redis frequency store failed (non-fatal)", zap.String("key", key), zap.Error(err))
	}
}

// Ping checks the Redis connection.
func (c *RedisCountCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
