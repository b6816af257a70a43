package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type article struct {
	ID    string
	Title string
	Tags  []string
}

func newTestRedis(t *testing.T, prefix string) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCache(RedisOptions{Addr: mr.Addr(), PoolSize: 4, DialTimeout: time.Second}, prefix, time.Minute, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := newTestRedis(t, "cm:")
	ctx := context.Background()

	in := article{ID: "a1", Title: "Hello", Tags: []string{"go", "cache"}}
	require.NoError(t, c.Set(ctx, "article:a1", in, 0))
	assert.True(t, mr.Exists("cm:article:a1"), "keys are namespaced by prefix")

	var out article
	found, err := c.Get(ctx, "article:a1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)

	ttl, err := c.TTL(ctx, "article:a1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl, "ttl <= 0 falls back to the default TTL")
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := newTestRedis(t, "cm:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 5*time.Second))
	mr.FastForward(6 * time.Second)

	var out string
	found, err := c.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_GetNotFound(t *testing.T) {
	c, _ := newTestRedis(t, "")

	var out string
	found, err := c.Get(context.Background(), "nonexistent_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_DeleteAndClear(t *testing.T) {
	c, mr := newTestRedis(t, "cm:")
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, k, 0))
	}
	require.NoError(t, mr.Set("other:keep", "1"))

	require.NoError(t, c.Delete(ctx, "a"))
	assert.False(t, mr.Exists("cm:a"))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, mr.Exists("cm:b"))
	assert.False(t, mr.Exists("cm:c"))
	assert.True(t, mr.Exists("other:keep"), "clear only touches the cache's own prefix")
}

func TestRedisCache_RejectsOversizedValue(t *testing.T) {
	c, _ := newTestRedis(t, "cm:")

	err := c.Set(context.Background(), "big", strings.Repeat("x", MaxValueSize+1), 0)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestRedisCache_ServerDown(t *testing.T) {
	c, mr := newTestRedis(t, "cm:")
	mr.Close()

	var out string
	_, err := c.Get(context.Background(), "k", &out)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestNew_Backends(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	mem, err := New(ctx, Options{Backend: BackendMemory, MemorySize: 10}, logger)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, mem.Name())
	require.NoError(t, mem.Close())

	mr := miniredis.RunT(t)
	rc, err := New(ctx, Options{Backend: BackendRedis, KeyPrefix: "cm:", Redis: RedisOptions{Addr: mr.Addr()}}, logger)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, rc.Name())
	require.NoError(t, rc.Close())
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "memcached"}, zaptest.NewLogger(t).Sugar())
	require.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "memcached")
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{
		Backend: BackendRedis,
		Redis:   RedisOptions{Addr: addr, DialTimeout: 200 * time.Millisecond},
	}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
