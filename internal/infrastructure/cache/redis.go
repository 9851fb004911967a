package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

const defaultScanBatchSize = 100

// RedisCache implements the document cache on Redis. One namespace prefix per
// logical store keeps the identity and dimension collections apart even when
// they share a Redis instance.
type RedisCache struct {
	client     *redis.Client
	ownsClient bool
	namespace  string
	logger     *zap.Logger
}

// RedisCacheOption is a functional option for configuring the cache.
type RedisCacheOption func(*RedisCache)

// WithNamespace prefixes every key with namespace.
func WithNamespace(namespace string) RedisCacheOption {
	return func(c *RedisCache) {
		c.namespace = namespace
	}
}

// WithRedisLogger sets the logger for the cache.
func WithRedisLogger(logger *zap.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, opts ...RedisCacheOption) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache := &RedisCache{client: client, ownsClient: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// NewRedisCacheWithClient wraps an existing client; the caller retains
// ownership and closes it.
func NewRedisCacheWithClient(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

func (c *RedisCache) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Get retrieves a value; a Redis miss maps to the domain cache-miss error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		c.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, domain.WrapTransient("redis get", err)
	}
	return data, nil
}

// Set stores a value. A ttl of zero stores without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return domain.WrapTransient("redis set", err)
	}
	return nil
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return domain.WrapTransient("redis delete", err)
	}
	return nil
}

// DeleteByPrefix removes every key under prefix using SCAN so large
// namespaces do not block Redis.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	pattern := c.key(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, defaultScanBatchSize).Result()
		if err != nil {
			return domain.WrapTransient("redis scan", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return domain.WrapTransient("redis delete batch", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the client when this cache owns it.
func (c *RedisCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}
