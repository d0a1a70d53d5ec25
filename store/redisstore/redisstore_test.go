package redisstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/store/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newStore connects to the server at REDIS_ADDR, or skips the test. Every
// test uses its own key prefix so that tests do not interfere.
func newStore(t *testing.T) *redisstore.Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return redisstore.New(client, "test-"+uuid.NewString()+":")
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	ok, err := s.SetNX(ctx, "k", []byte("w"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	ok, err = s.SetNX(ctx, "k", []byte("w"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Delete(ctx, "k"))
}

func TestRedisCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Set(ctx, "lock", []byte("token-a"), time.Minute))

	ok, err := s.CompareAndDelete(ctx, "lock", []byte("token-b"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "lock", []byte("token-a"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CompareAndDelete(ctx, "lock", []byte("token-a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisExpiration(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 100*time.Millisecond))
	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "short")
		return err == store.ErrNotFound
	}, 2*time.Second, 50*time.Millisecond)
}
