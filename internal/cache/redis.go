package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// scanCount is the COUNT hint for SCAN batches.
const scanCount = 100

// RedisCache implements Cache on Redis. Entries carry a server-side TTL; Clear and
// Stats only touch keys under keyPrefix.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl <= 0 means DefaultTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisClient builds a client for a single Redis node.
func NewRedisClient(addr, password string, db int, timeout time.Duration) *redis.Client {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return redis.NewClient(opts)
}

func (c *RedisCache) Get(ctx context.Context, coord models.Coordinate) (models.WeatherReport, bool, error) {
	raw, err := c.client.Get(ctx, remoteKey(coord)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.WeatherReport{}, false, nil
		}
		return models.WeatherReport{}, false, err
	}
	var v models.WeatherReport
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.WeatherReport{}, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, coord models.Coordinate, v models.WeatherReport) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, remoteKey(coord), string(raw), c.ttl).Err()
}

// Cleanup is a no-op; Redis expires keys itself.
func (c *RedisCache) Cleanup(ctx context.Context) error {
	return ctx.Err()
}

// Clear deletes every key under keyPrefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		return c.client.Del(ctx, keys...).Err()
	})
}

// Stats counts keys under keyPrefix.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	n := 0
	err := c.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	if err != nil {
		return Stats{Size: -1, TTL: int(c.ttl / time.Second)}, err
	}
	return Stats{Size: n, TTL: int(c.ttl / time.Second)}, nil
}

func (c *RedisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisCache) Backend() string { return BackendRedis }

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
