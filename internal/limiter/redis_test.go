package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Minute, 3, 5*time.Minute), mr
}

func TestAllowByDefault(t *testing.T) {
	l, _ := newLimiter(t)

	ok, retry, err := l.Allow(context.Background(), HashIP("10.0.0.1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, retry)
}

func TestBlockAfterThreshold(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	key := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		require.NoError(t, l.Failure(ctx, key))
		ok, _, err := l.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, l.Failure(ctx, key))
	ok, retry, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))

	// a different address is unaffected
	ok, _, err = l.Allow(ctx, HashIP("10.0.0.2"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBlockExpires(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	key := HashIP("10.0.0.1")

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Failure(ctx, key))
	}
	ok, _, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(5 * time.Minute)
	ok, _, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFailureWindowExpires(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	key := HashIP("10.0.0.1")

	require.NoError(t, l.Failure(ctx, key))
	require.NoError(t, l.Failure(ctx, key))
	mr.FastForward(time.Minute)

	// counter restarted, one more failure does not block
	require.NoError(t, l.Failure(ctx, key))
	ok, _, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSuccessResets(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	key := HashIP("10.0.0.1")

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Failure(ctx, key))
	}
	require.NoError(t, l.Success(ctx, key))

	ok, _, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
}
