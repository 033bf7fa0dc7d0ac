package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClientDegradesGracefully(t *testing.T) {
	var r *RedisClient
	ctx := context.Background()

	ok, err := r.AcquireLock(ctx, "lock:rollup:daily:2024-03-01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are granted without redis")

	assert.NoError(t, r.ReleaseLock(ctx, "lock:rollup:daily:2024-03-01"))
	assert.NoError(t, r.Publish(ctx, "pipeline:sync_log", map[string]string{"status": "completed"}))
	assert.Nil(t, r.Subscribe(ctx, "pipeline:sync_log"))
	assert.Error(t, r.Ping(ctx))
	assert.NoError(t, r.Close())
}

// unreachable returns a client whose every command fails fast
func unreachable(t *testing.T) *RedisClient {
	t.Helper()
	r := &RedisClient{client: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReleaseLockOnlyTouchesHeldLocks(t *testing.T) {
	r := unreachable(t)
	ctx := context.Background()
	key := "lock:rollup:daily:2024-03-01"

	assert.NoError(t, r.ReleaseLock(ctx, key), "a lock this process never took is left alone")

	ok, err := r.AcquireLock(ctx, key, time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	_, held := r.tokens.Load(key)
	assert.False(t, held, "no token is kept for a failed acquire")

	r.tokens.Store(key, "token-a")
	assert.Error(t, r.ReleaseLock(ctx, key), "a held lock is released through redis")
	_, held = r.tokens.Load(key)
	assert.False(t, held)
	assert.NoError(t, r.ReleaseLock(ctx, key), "the token is used once")
}
