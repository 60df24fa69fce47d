package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache backed by Redis, sharing record lookups
// across multiple lorekeep instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisCacheConfig holds configuration for the Redis cache.
type RedisCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "lorekeep:cache:"
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(cfg RedisCacheConfig) *RedisCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "lorekeep:cache:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
