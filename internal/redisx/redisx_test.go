package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestStockCache(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	c := NewStockCache(rdb, 2*time.Second)

	_, ok, err := c.Get(ctx, "fs1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "fs1", 85))
	n, ok, err := c.Get(ctx, "fs1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 85, n)

	mr.FastForward(3 * time.Second)
	_, ok, _ = c.Get(ctx, "fs1")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "fs1", 10))
	require.NoError(t, c.Invalidate(ctx, "fs1", "fs2"))
	_, ok, _ = c.Get(ctx, "fs1")
	assert.False(t, ok)
}

func TestIdempotency(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()
	idem := NewIdempotency(rdb)

	_, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idem.Remember(ctx, "k1", "order-1"))
	require.NoError(t, idem.Remember(ctx, "k1", "order-2"))
	id, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", id)

	first, err := idem.FirstSeen(ctx, "worker", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = idem.FirstSeen(ctx, "worker", "evt-1")
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, idem.Forget(ctx, "worker", "evt-1"))
	first, err = idem.FirstSeen(ctx, "worker", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestLocker(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	l := NewLocker(rdb)

	tok, ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, "sweep", "someone-else"))
	assert.True(t, mr.Exists("lock:sweep"))

	require.NoError(t, l.Unlock(ctx, "sweep", tok))
	assert.False(t, mr.Exists("lock:sweep"))

	exists, err := Exists(ctx, rdb, "lock:sweep")
	require.NoError(t, err)
	assert.False(t, exists)
}
