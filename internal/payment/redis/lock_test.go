package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	return client, mr
}

func TestCaptureLockExclusive(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	locks := NewLocks(client, 30*time.Second)
	ctx := context.Background()

	ok, err := locks.AcquireCapture(ctx, "order-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second worker loses.
	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Different order is unaffected.
	ok, err = locks.AcquireCapture(ctx, "order-2", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCaptureLockReleaseByHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	locks := NewLocks(client, 30*time.Second)
	ctx := context.Background()

	ok, err := locks.AcquireCapture(ctx, "order-1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-holder release leaves the lock in place.
	require.NoError(t, locks.ReleaseCapture(ctx, "order-1", "worker-b"))
	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// The holder's release frees it.
	require.NoError(t, locks.ReleaseCapture(ctx, "order-1", "worker-a"))
	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCaptureLockExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	locks := NewLocks(client, time.Second)
	ctx := context.Background()

	ok, err := locks.AcquireCapture(ctx, "order-1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)

	// The expired holder must not steal the new holder's lock.
	require.NoError(t, locks.ReleaseCapture(ctx, "order-1", "worker-a"))
	ok, err = locks.AcquireCapture(ctx, "order-1", "worker-c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseMissingLockIsNoOp(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	locks := NewLocks(client, 30*time.Second)
	assert.NoError(t, locks.ReleaseCapture(context.Background(), "order-1", "worker-a"))
}
