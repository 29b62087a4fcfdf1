package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the server in the connection URL (redis://, rediss:// or unix://) and
// checks it answers
func NewRedisCache(ctx context.Context, connection string) (*RedisCache, error) {
	opts, err := redis.ParseURL(connection)
	if err != nil {
		return nil, fmt.Errorf("invalid redis connection: %w", err)
	}

	return NewRedisCacheWithClient(ctx, redis.NewClient(opts))
}

func NewRedisCacheWithClient(ctx context.Context, client *redis.Client) (*RedisCache, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	log.Debug().Str("addr", client.Options().Addr).Int("db", client.Options().DB).Msg("connected to redis")

	return &RedisCache{
		client: client,
	}, nil
}

func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rc.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (rc *RedisCache) Fetch(ctx context.Context, key string) (string, bool, error) {
	value, err := rc.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (rc *RedisCache) Add(ctx context.Context, key string, value string, ttl time.Duration) error {
	return rc.client.Set(ctx, key, value, ttl).Err()
}

func (rc *RedisCache) Remove(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
