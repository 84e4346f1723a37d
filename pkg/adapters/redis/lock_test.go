package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/wabaflow/pkg/adapters/redis"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "1:+55", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, unlock)

	assert.True(t, mr.Exists("test:lock:1:+55"), "lock key should be set in Redis")
	assert.Equal(t, 5*time.Second, mr.TTL("test:lock:1:+55"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:1:+55"), "lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr, client := newClient(t)
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = locker2.Lock(ctxTimeout, "shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond, "should block until timeout")

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	defer unlock2(ctx)
	assert.True(t, mr.Exists("test:lock:shared"))
}

func TestRedisLocker_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	staleUnlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("test:lock:k"))

	freshUnlock, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, staleUnlock(ctx))
	assert.True(t, mr.Exists("test:lock:k"), "stale holder must not delete the new lock")

	require.NoError(t, freshUnlock(ctx))
	assert.False(t, mr.Exists("test:lock:k"))
}

func TestRedisLocker_RenewsLeaseWhileHeld(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()
	const ttl = 300 * time.Millisecond

	unlock, err := locker.Lock(ctx, "slow", ttl)
	require.NoError(t, err)

	// A walk that outlives the lease twice over.
	for i := 0; i < 3; i++ {
		mr.FastForward(200 * time.Millisecond)
		require.True(t, mr.Exists("test:lock:slow"), "lease lost after %d ticks", i+1)
		require.Eventually(t, func() bool { return mr.TTL("test:lock:slow") == ttl },
			time.Second, 5*time.Millisecond, "lease not extended")
	}

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:slow"))

	mr.FastForward(time.Second)
	time.Sleep(2 * ttl / 3)
	assert.False(t, mr.Exists("test:lock:slow"), "released lock stays released")
}

func TestRedisLocker_DoesNotRenewForeignLease(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", 300*time.Millisecond)
	require.NoError(t, err)

	// Our lease expired and another replica took the key.
	require.NoError(t, mr.Set("test:lock:k", "other-replica"))
	mr.SetTTL("test:lock:k", 100*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, mr.TTL("test:lock:k"))

	require.NoError(t, unlock(ctx))
	got, err := mr.Get("test:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other-replica", got)
}
