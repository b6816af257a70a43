package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"contentmind/metrics"
)

// clearBatch is the SCAN page size used by Clear
const clearBatch = 500

// RedisCache provides a Redis-backed cache shared across processes
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	logger     *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance. It does not connect;
// call Ping to verify the server is reachable.
func NewRedisCache(opts RedisOptions, prefix string, defaultTTL time.Duration, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	return &RedisCache{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (rc *RedisCache) Name() string { return BackendRedis }

func (rc *RedisCache) key(k string) string { return rc.prefix + k }

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value in the cache with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(BackendRedis, key, value, rc.logger)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	if err := rc.client.Set(ctx, rc.key(key), data, ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(BackendRedis, "set").Inc()
		return err
	}
	return nil
}

// Get retrieves a value from the cache
func (rc *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues(BackendRedis).Inc()
			return false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(BackendRedis, "get").Inc()
		return false, err
	}

	if err := decode(BackendRedis, key, data, dest, rc.logger); err != nil {
		return false, err
	}
	metrics.CacheHits.WithLabelValues(BackendRedis).Inc()
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, rc.key(key)).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(BackendRedis, "delete").Inc()
		return err
	}
	return nil
}

// Clear deletes every key under the cache prefix. Without a prefix the
// whole selected database is flushed.
func (rc *RedisCache) Clear(ctx context.Context) error {
	if rc.prefix == "" {
		return rc.client.FlushDB(ctx).Err()
	}

	var cursor uint64
	for {
		keys, next, err := rc.client.Scan(ctx, cursor, rc.prefix+"*", clearBatch).Result()
		if err != nil {
			metrics.CacheErrors.WithLabelValues(BackendRedis, "clear").Inc()
			return err
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				metrics.CacheErrors.WithLabelValues(BackendRedis, "clear").Inc()
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// TTL returns the remaining TTL for a key
func (rc *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rc.client.TTL(ctx, rc.key(key)).Result()
}
