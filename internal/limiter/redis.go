package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed limiter: a failure counter inside a sliding
// window, and a block key once the counter crosses the threshold. Shared
// across relay processes the same way the presence store is.
type Redis struct {
	rdb      redis.Cmdable
	window   time.Duration
	maxFails int64
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redis.Cmdable, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: rdb, window: window, maxFails: int64(maxFails), blockFor: blockFor}
}

func failsKey(key string) string { return "limiter:fails:" + key }
func blockKey(key string) string { return "limiter:block:" + key }

// Allow reports whether the key is currently blocked.
func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := l.rdb.TTL(ctx, blockKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, err
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Failure bumps the counter; crossing the threshold arms the block and
// clears the counter so the next window starts clean.
func (l *Redis) Failure(ctx context.Context, key string) error {
	n, err := l.rdb.Incr(ctx, failsKey(key)).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, failsKey(key), l.window).Err(); err != nil {
			return err
		}
	}
	if n >= l.maxFails {
		if err := l.rdb.Set(ctx, blockKey(key), "1", l.blockFor).Err(); err != nil {
			return err
		}
		return l.rdb.Del(ctx, failsKey(key)).Err()
	}
	return nil
}

// Success clears both keys.
func (l *Redis) Success(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, failsKey(key), blockKey(key)).Err()
}
