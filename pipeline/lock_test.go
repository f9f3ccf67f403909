package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLocker(rdb)
	ctx := context.Background()

	unlock, ok, err := l.Lock(ctx, "pipeline:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Lock(ctx, "pipeline:k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	_, ok, err = l.Lock(ctx, "pipeline:k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLocker(rdb)
	ctx := context.Background()

	staleUnlock, ok, err := l.Lock(ctx, "pipeline:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.Lock(ctx, "pipeline:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The expired holder must not release the new holder's lock.
	staleUnlock()
	assert.True(t, mr.Exists("pipeline:k"))
}

func TestRedisLockerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	_, ok, err := NewRedisLocker(rdb).Lock(context.Background(), "pipeline:k", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
