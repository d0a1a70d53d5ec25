package dlock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipni/go-refreshcache/dlock"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/store/dsstore"
	"github.com/stretchr/testify/require"
)

// plainStore hides CompareAndDelete so that the get-compare-delete path is
// used, and counts deletes.
type plainStore struct {
	store.Store
	deletes atomic.Int32
	failGet bool
}

func (s *plainStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet {
		return nil, errors.New("connection refused")
	}
	return s.Store.Get(ctx, key)
}

func (s *plainStore) Delete(ctx context.Context, key string) error {
	s.deletes.Add(1)
	return s.Store.Delete(ctx, key)
}

func newStore(t *testing.T) (*dsstore.Store, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Now())
	s, err := dsstore.New(dsstore.WithClock(clk))
	require.NoError(t, err)
	return s, clk
}

func TestLockKey(t *testing.T) {
	require.Equal(t, "test::abc~lock", dlock.LockKey("test", "abc"))
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	locker := dlock.New(s)
	key := dlock.LockKey("test", "k")

	token, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	locker.Release(ctx, key, token)

	token2, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, token, token2)
}

func TestExpiredLockNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	s, clk := newStore(t)
	locker := dlock.New(s)
	key := dlock.LockKey("test", "k")

	oldToken, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Old holder outlives its lock and another holder acquires it.
	clk.Add(11 * time.Second)
	newToken, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	locker.Release(ctx, key, oldToken)

	val, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, newToken, string(val))
}

func TestReleaseTwice(t *testing.T) {
	ctx := context.Background()
	ds, _ := newStore(t)
	s := &plainStore{Store: ds}
	locker := dlock.New(s)
	key := dlock.LockKey("test", "k")

	token, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	locker.Release(ctx, key, token)
	locker.Release(ctx, key, token)
	require.Equal(t, int32(1), s.deletes.Load())

	// Same with the atomic compare-and-delete store.
	locker = dlock.New(ds)
	token, ok, err = locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	locker.Release(ctx, key, token)
	locker.Release(ctx, key, token)
	_, err = ds.Get(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReleaseErrorSwallowed(t *testing.T) {
	ctx := context.Background()
	ds, _ := newStore(t)
	s := &plainStore{Store: ds}
	locker := dlock.New(s)
	key := dlock.LockKey("test", "k")

	token, ok, err := locker.TryAcquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.failGet = true
	require.NotPanics(t, func() { locker.Release(ctx, key, token) })
	require.Zero(t, s.deletes.Load())
}

func TestConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	locker := dlock.New(s)
	key := dlock.LockKey("test", "hot")

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := locker.TryAcquire(ctx, key, time.Minute)
			if err == nil && ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), acquired.Load())
}
