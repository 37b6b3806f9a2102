package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"enrollsync/internal/config"
	"enrollsync/pkg/circuitbreaker"
)

// Cache is the key-presence store behind the processed index.
type Cache interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (c *RedisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

// CircuitBreakerCache stops calling Redis while it keeps failing, so the
// index falls back to Postgres without paying a timeout per lookup.
type CircuitBreakerCache struct {
	cache Cache
	cb    *circuitbreaker.Breaker
}

func NewCircuitBreakerCache(cache Cache, cfg config.CircuitBreakerConfig) Cache {
	if !cfg.Enabled {
		return cache
	}
	return &CircuitBreakerCache{
		cache: cache,
		cb: circuitbreaker.New("redis-processed-index", circuitbreaker.Settings{
			MaxRequests:  cfg.MaxRequests,
			Interval:     cfg.Interval,
			Timeout:      cfg.Timeout,
			FailureRatio: cfg.FailureRatio,
			MinRequests:  cfg.MinRequests,
		}),
	}
}

func (c *CircuitBreakerCache) Exists(ctx context.Context, key string) (bool, error) {
	return circuitbreaker.Do(ctx, c.cb, func() (bool, error) {
		return c.cache.Exists(ctx, key)
	})
}

func (c *CircuitBreakerCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, c.cb, func() (bool, error) {
		return c.cache.SetNX(ctx, key, value, ttl)
	})
}

func (c *CircuitBreakerCache) State() string {
	return c.cb.State().String()
}
