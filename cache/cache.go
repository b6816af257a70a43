package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"contentmind/metrics"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// MaxValueSize caps a single encoded cache value (10MB).
const MaxValueSize = 10 * 1024 * 1024

var (
	// ErrUnknownBackend is returned by New for an unsupported backend name
	ErrUnknownBackend = errors.New("unknown cache backend")
	// ErrValueTooLarge is returned by Set when the encoded value exceeds MaxValueSize
	ErrValueTooLarge = errors.New("cache value exceeds maximum size")
)

// Cache stores encoded values for expensive computations. Values round-trip
// through msgpack, so Get decodes into dest the same way on every backend.
type Cache interface {
	// Get decodes the value for key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key. A ttl <= 0 uses the cache's default TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key this cache owns.
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// Options configures New.
type Options struct {
	Backend    string
	DefaultTTL time.Duration
	KeyPrefix  string
	MemorySize int
	Redis      RedisOptions
}

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// New builds the configured backend and verifies it is reachable.
func New(ctx context.Context, opts Options, logger *zap.SugaredLogger) (Cache, error) {
	switch opts.Backend {
	case BackendMemory, "":
		c, err := NewMemoryCache(opts.MemorySize, opts.DefaultTTL, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendRedis:
		c := NewRedisCache(opts.Redis, opts.KeyPrefix, opts.DefaultTTL, logger)

		timeout := opts.Redis.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Redis.Addr, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w %q (expected %q or %q)", ErrUnknownBackend, opts.Backend, BackendMemory, BackendRedis)
	}
}

func encode(backend, key string, value any, logger *zap.SugaredLogger) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(backend, "marshal").Inc()
		return nil, err
	}
	if len(data) > MaxValueSize {
		logger.Warnf("Cache value for key %s exceeds size limit (%d bytes > %d bytes), rejecting", key, len(data), MaxValueSize)
		metrics.CacheErrors.WithLabelValues(backend, "size_limit").Inc()
		return nil, fmt.Errorf("%w: %d bytes > %d bytes", ErrValueTooLarge, len(data), MaxValueSize)
	}
	return data, nil
}

func decode(backend, key string, data []byte, dest any, logger *zap.SugaredLogger) error {
	if err := msgpack.Unmarshal(data, dest); err != nil {
		logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(backend, "unmarshal").Inc()
		return err
	}
	return nil
}
