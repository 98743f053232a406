//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/duesledger/duesledger/internal/testutil"
)

func newCacheTestEnv(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return ctx, c
}

func TestIntegrationCache_Pages(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	if _, err := c.GetPage(ctx, "members"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := c.SetPage(ctx, "members", []byte(`[1]`)); err != nil {
		t.Fatalf("SetPage failed: %v", err)
	}
	data, err := c.GetPage(ctx, "members")
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if string(data) != `[1]` {
		t.Errorf("GetPage = %q", data)
	}

	if err := c.InvalidatePages(ctx, "members"); err != nil {
		t.Fatalf("InvalidatePages failed: %v", err)
	}
	if _, err := c.GetPage(ctx, "members"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after invalidation, got %v", err)
	}
}

func TestIntegrationCache_IPRateLimit(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	allowed := 0
	for i := 0; i < 5; i++ {
		res, err := c.CheckIPRateLimit(ctx, "10.0.0.1", 1, 3)
		if err != nil {
			t.Fatalf("CheckIPRateLimit failed: %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want burst of 3", allowed)
	}

	res, _ := c.CheckIPRateLimit(ctx, "10.0.0.2", 1, 3)
	if !res.Allowed {
		t.Error("another IP should have its own bucket")
	}
}
