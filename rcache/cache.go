package rcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/cachename"
	"github.com/ipni/go-refreshcache/dlock"
	"github.com/ipni/go-refreshcache/envelope"
	"github.com/ipni/go-refreshcache/workpool"
)

var log = logging.Logger("rcache")

// loadStripes is the number of mutexes that serialize cold loads.
const loadStripes = 64

// ErrNoLoader is returned by GetOrLoad when called with a nil loader.
var ErrNoLoader = errors.New("no loader")

// Loader computes the value for one cache entry.
type Loader func(ctx context.Context) ([]byte, error)

// KeyLoader computes the value for key in the cache identified by cacheID.
type KeyLoader func(ctx context.Context, cacheID, key string) ([]byte, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          uint64
	StaleHits     uint64
	Misses        uint64
	Loads         uint64
	LoadErrors    uint64
	Refreshes     uint64
	RefreshErrors uint64
}

// Cache is a refresh-ahead cache. Reads of stale entries return the stale
// value immediately and refresh the entry in the background. At most one
// refresh per key runs at a time across all processes sharing the store.
type Cache struct {
	*StoreCache

	desc       cachename.Descriptor
	refreshAge int64 // milliseconds, negative if refresh disabled
	lockTTL    time.Duration

	clock     clock.Clock
	keyLoader KeyLoader
	locker    *dlock.Locker
	pool      *workpool.Pool

	loadLocks [loadStripes]sync.Mutex

	hits          atomic.Uint64
	staleHits     atomic.Uint64
	misses        atomic.Uint64
	loads         atomic.Uint64
	loadErrors    atomic.Uint64
	refreshes     atomic.Uint64
	refreshErrors atomic.Uint64
}

var _ Interface = (*Cache)(nil)

// Descriptor returns the parsed descriptor the cache was created from.
func (c *Cache) Descriptor() cachename.Descriptor {
	return c.desc
}

// Get returns the cached value for key, and false if there is none. If the
// value is stale and the cache has a key loader, a background refresh is
// started.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var loader Loader
	if c.keyLoader != nil {
		cacheID := c.ID()
		loader = func(ctx context.Context) ([]byte, error) {
			return c.keyLoader(ctx, cacheID, key)
		}
	}
	return c.get(ctx, key, loader)
}

// GetOrLoad returns the cached value for key. If there is none, the value is
// loaded by calling loader, cached, and returned. Concurrent calls for the
// same key in this process wait for a single load. If the cached value is
// stale, it is returned and loader is used to refresh it in the background.
//
// An error from loader on a cold load is returned as is and nothing is
// cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, loader Loader) ([]byte, error) {
	if loader == nil {
		return nil, ErrNoLoader
	}
	val, ok, err := c.get(ctx, key, loader)
	if err != nil {
		return nil, err
	}
	if ok {
		return val, nil
	}

	mu := &c.loadLocks[xxhash.Sum64String(key)%loadStripes]
	mu.Lock()
	defer mu.Unlock()

	// Check if loaded by a previous caller.
	env, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		c.hits.Add(1)
		return env.Value, nil
	}

	val, err = loader(ctx)
	if err != nil {
		c.loadErrors.Add(1)
		return nil, err
	}
	c.loads.Add(1)

	if err = c.Put(ctx, key, val); err != nil {
		log.Errorw("Cannot cache loaded value", "cache", c.ID(), "key", key, "err", err)
	}
	return val, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		StaleHits:     c.staleHits.Load(),
		Misses:        c.misses.Load(),
		Loads:         c.loads.Load(),
		LoadErrors:    c.loadErrors.Load(),
		Refreshes:     c.refreshes.Load(),
		RefreshErrors: c.refreshErrors.Load(),
	}
}

func (c *Cache) get(ctx context.Context, key string, loader Loader) ([]byte, bool, error) {
	env, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	if c.isStale(env) {
		c.staleHits.Add(1)
		c.triggerRefresh(ctx, key, loader)
	} else {
		c.hits.Add(1)
	}
	return env.Value, true, nil
}

func (c *Cache) isStale(env envelope.Envelope) bool {
	if c.refreshAge < 0 {
		return false
	}
	return env.Age(c.clock.Now().UnixMilli()) > c.refreshAge
}

// triggerRefresh starts a background refresh of key if no other refresh of
// key is in progress. It never waits for the refresh.
func (c *Cache) triggerRefresh(ctx context.Context, key string, loader Loader) {
	if loader == nil {
		log.Debugw("No loader to refresh stale entry", "cache", c.ID(), "key", key)
		return
	}

	lockKey := dlock.LockKey(c.ID(), key)
	token, ok, err := c.locker.TryAcquire(ctx, lockKey, c.lockTTL)
	if err != nil {
		log.Errorw("Cannot acquire refresh lock", "cache", c.ID(), "key", key, "err", err)
		return
	}
	if !ok {
		// Refresh already in progress.
		return
	}

	submitted := c.pool.Submit(func(ctx context.Context) {
		defer c.locker.Release(context.WithoutCancel(ctx), lockKey, token)
		c.refresh(ctx, key, loader)
	})
	if !submitted {
		c.locker.Release(context.WithoutCancel(ctx), lockKey, token)
	}
}

func (c *Cache) refresh(ctx context.Context, key string, loader Loader) {
	val, err := loader(ctx)
	if err != nil {
		c.refreshErrors.Add(1)
		log.Errorw("Cannot refresh cache entry", "cache", c.ID(), "key", key, "err", err)
		return
	}
	if err = c.Put(ctx, key, val); err != nil {
		c.refreshErrors.Add(1)
		log.Errorw("Cannot store refreshed cache entry", "cache", c.ID(), "key", key, "err", err)
		return
	}
	c.refreshes.Add(1)
	log.Debugw("Refreshed cache entry", "cache", c.ID(), "key", key)
}
