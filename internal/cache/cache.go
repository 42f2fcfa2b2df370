package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// DefaultTTL is the entry lifetime when none is configured.
const DefaultTTL = 600 * time.Second

// Backend names, used in config and as metric labels.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Stats reports cache occupancy. Size is -1 when the backend cannot count entries.
// TTL is in seconds.
type Stats struct {
	Size int `json:"size"`
	TTL  int `json:"ttl"`
}

// Cache stores weather reports keyed by exact coordinate. The TTL is fixed when the
// cache is built; Set always overwrites.
type Cache interface {
	// Get returns (report, true, nil) on a hit and (zero, false, nil) on a miss or expired entry.
	Get(ctx context.Context, c models.Coordinate) (models.WeatherReport, bool, error)
	Set(ctx context.Context, c models.Coordinate, v models.WeatherReport) error
	// Cleanup evicts expired entries.
	Cleanup(ctx context.Context) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Backend() string
}

// InMemoryCache implements Cache with a map. Expired entries are removed on Get and
// by Cleanup. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherReport
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. ttl <= 0 means DefaultTTL.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, coord models.Coordinate) (models.WeatherReport, bool, error) {
	key := coord.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherReport{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherReport{}, false, nil
	}
	return entry.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, coord models.Coordinate, v models.WeatherReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[coord.Key()] = cacheEntry{value: v, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *InMemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
	return nil
}

// Stats counts stored entries, including expired ones not yet evicted.
func (c *InMemoryCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.data), TTL: int(c.ttl / time.Second)}, nil
}

func (c *InMemoryCache) Backend() string { return BackendInMemory }
