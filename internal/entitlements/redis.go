package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each key as an RFC 3339 string without a TTL; entries live
// until overwritten.
type RedisBackend struct {
	rdb   redis.UniversalClient
	keyNS string
}

func NewRedisBackend(rdb redis.UniversalClient, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "flashcards:entitlements:"
	}
	return &RedisBackend{rdb: rdb, keyNS: keyPrefix}
}

func (r *RedisBackend) key(k string) string { return r.keyNS + k }

func (r *RedisBackend) Get(ctx context.Context, key string) (*time.Time, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return &t, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value *time.Time) error {
	if value == nil {
		return r.rdb.Del(ctx, r.key(key)).Err()
	}
	return r.rdb.Set(ctx, r.key(key), value.UTC().Format(time.RFC3339Nano), 0).Err()
}
