package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// keyPrefix namespaces entries in shared remote stores.
const keyPrefix = "forecast:"

// maxRelativeExp is memcached's limit for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Expiry is enforced by the server,
// so Cleanup is a no-op and Stats cannot report a size.
type MemcachedCache struct {
	client *memcache.Client
	ttl    time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use the client defaults when zero.
func NewMemcachedCache(addrs string, ttl, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl.Seconds() > maxRelativeExp {
		return nil, errors.New("memcached ttl exceeds 30 days")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, ttl: ttl}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func remoteKey(c models.Coordinate) string {
	return keyPrefix + c.Key()
}

func (c *MemcachedCache) Get(ctx context.Context, coord models.Coordinate) (models.WeatherReport, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherReport{}, false, ctx.Err()
	}
	item, err := c.client.Get(remoteKey(coord))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherReport{}, false, nil
		}
		return models.WeatherReport{}, false, err
	}
	var v models.WeatherReport
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return models.WeatherReport{}, false, err
	}
	return v, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, coord models.Coordinate, v models.WeatherReport) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        remoteKey(coord),
		Value:      raw,
		Expiration: int32(c.ttl / time.Second),
	})
}

// Cleanup is a no-op; memcached expires entries itself.
func (c *MemcachedCache) Cleanup(ctx context.Context) error {
	return ctx.Err()
}

// Clear flushes every item on the configured servers, not only this service's keys.
func (c *MemcachedCache) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.client.FlushAll()
}

func (c *MemcachedCache) Stats(ctx context.Context) (Stats, error) {
	return Stats{Size: -1, TTL: int(c.ttl / time.Second)}, nil
}

func (c *MemcachedCache) Backend() string { return BackendMemcached }

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
