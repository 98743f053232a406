package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPageTTL bounds how stale a cached page can get if an
	// invalidation is missed.
	DefaultPageTTL = 10 * time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// GetPage retrieves a rendered page by key.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetPage(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, pageKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// SetPage stores a rendered page.
func (c *Cache) SetPage(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, pageKey(key), data, DefaultPageTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidatePages removes cached pages.
func (c *Cache) InvalidatePages(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = pageKey(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func pageKey(id string) string {
	return key("page", id)
}

// Nop is a page cache that stores nothing. It is used when Redis is not
// configured.
type Nop struct{}

// GetPage always misses.
func (Nop) GetPage(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

// SetPage discards data.
func (Nop) SetPage(context.Context, string, []byte) error { return nil }

// InvalidatePages does nothing.
func (Nop) InvalidatePages(context.Context, ...string) error { return nil }
