package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"contentmind/metrics"
)

// DefaultMemorySize is used when no size is configured
const DefaultMemorySize = 10000

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero = never
}

// MemoryCache is a process-local LRU cache with per-entry expiry.
// Expired entries are dropped lazily on access.
type MemoryCache struct {
	entries    *lru.Cache[string, memoryEntry]
	defaultTTL time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewMemoryCache returns an LRU cache holding at most size entries.
func NewMemoryCache(size int, defaultTTL time.Duration, logger *zap.SugaredLogger) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &MemoryCache{
		entries:    entries,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (mc *MemoryCache) Name() string { return BackendMemory }

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	e, ok := mc.entries.Get(key)
	if ok && !e.expiresAt.IsZero() && !mc.now().Before(e.expiresAt) {
		mc.entries.Remove(key)
		ok = false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(BackendMemory).Inc()
		return false, nil
	}

	if err := decode(BackendMemory, key, e.data, dest, mc.logger); err != nil {
		return false, err
	}
	metrics.CacheHits.WithLabelValues(BackendMemory).Inc()
	return true, nil
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(BackendMemory, key, value, mc.logger)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = mc.now().Add(ttl)
	}
	mc.entries.Add(key, e)
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.entries.Remove(key)
	return nil
}

func (mc *MemoryCache) Clear(_ context.Context) error {
	mc.entries.Purge()
	return nil
}

// Len returns the number of stored entries, including not yet evicted expired ones.
func (mc *MemoryCache) Len() int {
	return mc.entries.Len()
}

func (mc *MemoryCache) Ping(context.Context) error { return nil }

func (mc *MemoryCache) Close() error {
	mc.entries.Purge()
	return nil
}
