//go:build integration

package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemcachedCache_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", time.Minute, 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	if err := c.Set(ctx, madrid, sampleReport(18)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, madrid)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if *got.Current.Temperature != 18 {
		t.Errorf("temperature = %v, want 18", *got.Current.Temperature)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, madrid); ok {
		t.Error("Get() after Clear = hit, want miss")
	}
}

func TestRedisCache_Integration(t *testing.T) {
	client := NewRedisClient("localhost:6379", "", 0, 500*time.Millisecond)
	c := NewRedisCache(client, time.Minute)
	defer c.Close()
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	if err := c.Set(ctx, barcelona, sampleReport(22)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, err := c.Get(ctx, barcelona); err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	stats, err := c.Stats(ctx)
	if err != nil || stats.Size < 1 {
		t.Fatalf("Stats() = %+v, err %v", stats, err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}
