package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryCache_SetGetCopies(t *testing.T) {
	c, err := NewMemoryCache(8, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	in := article{ID: "a1", Tags: []string{"x"}}
	require.NoError(t, c.Set(ctx, "a1", in, 0))
	in.Tags[0] = "mutated"

	var out article
	found, err := c.Get(ctx, "a1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"x"}, out.Tags, "stored value does not alias the caller's")
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, err := NewMemoryCache(8, time.Minute, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "default", 1, 0))
	require.NoError(t, c.Set(ctx, "short", 2, time.Second))

	now = now.Add(2 * time.Second)
	var v int
	found, err := c.Get(ctx, "short", &v)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = c.Get(ctx, "default", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	found, err = c.Get(ctx, "default", &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, c.Len(), "expired entries are removed on access")
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewMemoryCache(2, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	var v int
	_, _ = c.Get(ctx, "a", &v)
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	found, _ := c.Get(ctx, "b", &v)
	assert.False(t, found)
	found, _ = c.Get(ctx, "a", &v)
	assert.True(t, found)
}

func TestMemoryCache_DeleteClear(t *testing.T) {
	c, err := NewMemoryCache(0, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Ping(ctx))
}

func TestMemoryCache_DecodeMismatch(t *testing.T) {
	c, err := NewMemoryCache(4, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "not a number", 0))
	var v int
	_, err = c.Get(ctx, "k", &v)
	assert.Error(t, err)
}
