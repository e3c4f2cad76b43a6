package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"video_transcoding_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrNil returned by RedisRepository.Get when the key does not exist
var ErrNil = errors.New("redis: key not found")

// RedisRepository definition generic JSON value store
type RedisRepository[T any] interface {
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Get(ctx context.Context, key string) (T, error)
	Del(ctx context.Context, key string) error
	GetTTL(ctx context.Context, key string) (int, error)
	ExtendTTL(ctx context.Context, key string, ttl time.Duration) error
}

type redisRepository[T any] struct {
	client redis.UniversalClient
}

// NewRedisUniversalClient build the client without dialing, connections open on first use
func NewRedisUniversalClient(d RedisConnection) redis.UniversalClient {
	return redis.NewUniversalClient(redisOptions(d))
}

func redisOptions(d RedisConnection) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Password: d.Password,
		DB:       d.DB,
	}
	if d.MasterName != "" {
		opts.MasterName = d.MasterName
		opts.Addrs = d.SentinelAddrs
	} else {
		opts.Addrs = []string{d.Addr}
	}
	return opts
}

// NewRedisClient connect to redis (single node or sentinel) with retry
func NewRedisClient(d RedisConnection) (redis.UniversalClient, error) {
	opts := redisOptions(d)
	rdb := redis.NewUniversalClient(opts)

	var err error
	for i := 1; i <= attempts(d.RetryCount); i++ {
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			return rdb, nil
		}
		logger.Log.Warn("Failed to connect to redis, retrying...",
			zap.Int("attempt", i),
			zap.Strings("address", opts.Addrs),
			zap.Error(err),
		)
		time.Sleep(d.RetryInterval * time.Second)
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis: %w", err)
}

// NewRedisRepository wrap an existing client (Set, Get, Del, GetTTL, ExtendTTL)
func NewRedisRepository[T any](client redis.UniversalClient) RedisRepository[T] {
	return &redisRepository[T]{client: client}
}

func (r *redisRepository[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisRepository[T]) Get(ctx context.Context, key string) (T, error) {
	var zeroValue T
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return zeroValue, ErrNil
	} else if err != nil {
		return zeroValue, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var result T
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		logger.Log.Error("redis value decode failed", zap.String("key", key), zap.Error(err))
		return zeroValue, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return result, nil
}

func (r *redisRepository[T]) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisRepository[T]) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *redisRepository[T]) GetTTL(ctx context.Context, key string) (int, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to get TTL for key %s: %w", key, err)
	}

	if ttl < 0 {
		return 0, nil
	}

	return int(ttl.Seconds()), nil
}
