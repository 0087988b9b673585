package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/redis/go-redis/v9"
)

const deleteBatchSize = 100

type RedisCache struct {
	Client *redis.Client
}

// NewRedisClient builds a go-redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisClient(cfg *config.Config) *redis.Client {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return redis.NewClient(opts)
}

// NewRedisCache wraps an existing client so the cache, lock and rate limiter share one pool.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// DeleteByPrefix walks the keyspace with SCAN and deletes matches in batches.
// KEYS is never used so large keyspaces do not block the server.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	iter := c.Client.Scan(ctx, 0, prefix+"*", deleteBatchSize).Iterator()

	deleted := 0
	batch := make([]string, 0, deleteBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.Client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= deleteBatchSize {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("redis delete prefix %s: %w", prefix, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan prefix %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("redis delete prefix %s: %w", prefix, err)
	}
	return deleted, nil
}
