package cache

import (
	"context"
	"time"
)

// Remember returns the cached value for key, or calls load and caches its
// result. A nil cache or a failing cache read degrades to calling load;
// load errors are returned and nothing is cached.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	var cached T
	if found, err := c.Get(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	// Write failures are counted by the backend and never fail the caller
	_ = c.Set(ctx, key, v, ttl)
	return v, nil
}

// Evict removes key, ignoring a nil cache. Use it after a mutation that
// invalidates a remembered value.
func Evict(ctx context.Context, c Cache, key string) error {
	if c == nil {
		return nil
	}
	return c.Delete(ctx, key)
}
