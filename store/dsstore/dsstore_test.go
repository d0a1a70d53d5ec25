package dsstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/store/dsstore"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*dsstore.Store, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Now())
	s, err := dsstore.New(dsstore.WithClock(clk))
	require.NoError(t, err)
	return s, clk
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Get(ctx, "users::1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "users::1", []byte("alice"), 0))
	val, err := s.Get(ctx, "users::1")
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), val)

	require.NoError(t, s.Set(ctx, "users::1", []byte("bob"), 0))
	val, err = s.Get(ctx, "users::1")
	require.NoError(t, err)
	require.Equal(t, []byte("bob"), val)

	require.NoError(t, s.Delete(ctx, "users::1"))
	_, err = s.Get(ctx, "users::1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Deleting absent key is fine.
	require.NoError(t, s.Delete(ctx, "users::1"))
}

func TestKeysWithPathCharacters(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Set(ctx, "a//b", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "a/b", []byte("2"), 0))
	require.NoError(t, s.Set(ctx, "../a/b", []byte("3"), 0))

	for key, want := range map[string]string{"a//b": "1", "a/b": "2", "../a/b": "3"} {
		val, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, want, string(val))
	}
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	s, clk := newStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 7*time.Second))
	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))

	clk.Add(6 * time.Second)
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	clk.Add(time.Second)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	clk.Add(24 * time.Hour)
	_, err = s.Get(ctx, "forever")
	require.NoError(t, err)
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	s, clk := newStore(t)

	ok, err := s.SetNX(ctx, "lock", []byte("a"), 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", []byte("b"), 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	val, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), val)

	// Expired value can be replaced.
	clk.Add(11 * time.Second)
	ok, err = s.SetNX(ctx, "lock", []byte("b"), 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	ok, err := s.CompareAndDelete(ctx, "lock", []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "lock", []byte("a"), time.Minute))

	ok, err = s.CompareAndDelete(ctx, "lock", []byte("b"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CompareAndDelete(ctx, "lock", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Get(ctx, "lock")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Now())
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	s, err := dsstore.New(dsstore.WithClock(clk), dsstore.WithDatastore(ds))
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Second))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Minute))
	require.NoError(t, s.Set(ctx, "d", []byte("4"), 0))

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clk.Add(2 * time.Second)
	n, err = s.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	val, err := s.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, []byte("3"), val)
	_, err = s.Get(ctx, "d")
	require.NoError(t, err)
}
