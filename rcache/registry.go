package rcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipni/go-refreshcache/cachename"
	"github.com/ipni/go-refreshcache/dlock"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/workpool"
)

// ErrClosed is returned when closing a registry that is already closed.
var ErrClosed = errors.New("registry closed")

// Registry creates caches by name and owns the resources they share: the
// store, the refresh lock, and the refresh worker pool. One cache is created
// for each distinct name, on first use, and kept for the life of the
// registry.
type Registry struct {
	store  store.Store
	locker *dlock.Locker
	pool   *workpool.Pool

	clock      clock.Clock
	defaultTTL time.Duration
	keyLoader  KeyLoader
	lockTTL    time.Duration

	caches sync.Map
	// createMutex ensures that each cache is constructed only once.
	createMutex sync.Mutex
}

// NewRegistry creates a registry of caches that keep their entries in s, and
// starts the refresh worker pool.
func NewRegistry(s store.Store, options ...Option) (*Registry, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	poolOpts := append([]workpool.Option{workpool.WithClock(opts.clock)}, opts.poolOpts...)
	pool, err := workpool.New(opts.poolName, poolOpts...)
	if err != nil {
		return nil, err
	}

	return &Registry{
		store:      s,
		locker:     dlock.New(s),
		pool:       pool,
		clock:      opts.clock,
		defaultTTL: opts.defaultTTL,
		keyLoader:  opts.keyLoader,
		lockTTL:    opts.lockTTL,
	}, nil
}

// Resolve returns the cache for the raw cache name, creating it if this is
// the first time the name is resolved. Caches are keyed by the full raw name,
// so names that differ only in TTL or refresh window get separate caches that
// share the same entries in the store.
func (r *Registry) Resolve(rawName string) *Cache {
	if c, ok := r.caches.Load(rawName); ok {
		return c.(*Cache)
	}

	r.createMutex.Lock()
	defer r.createMutex.Unlock()

	if c, ok := r.caches.Load(rawName); ok {
		return c.(*Cache)
	}
	c := r.newCache(cachename.Parse(rawName))
	r.caches.Store(rawName, c)

	log.Infow("Created cache", "name", rawName, "id", c.ID(), "ttl", c.TTL(),
		"refreshAge", c.desc.RefreshAge())
	return c
}

// Names returns the sorted raw names of all caches resolved so far.
func (r *Registry) Names() []string {
	var names []string
	r.caches.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// PoolStats returns the refresh worker pool counters.
func (r *Registry) PoolStats() workpool.Stats {
	return r.pool.Stats()
}

// Close shuts down the refresh worker pool, waiting for queued refreshes to
// complete until ctx is done. Caches remain usable after Close, but no longer
// refresh stale entries.
func (r *Registry) Close(ctx context.Context) error {
	err := r.pool.Shutdown(ctx)
	if errors.Is(err, workpool.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (r *Registry) newCache(desc cachename.Descriptor) *Cache {
	ttl := desc.PhysicalTTL()
	if !desc.HasTTL() {
		ttl = r.defaultTTL
	}
	c := &Cache{
		StoreCache: NewStoreCache(desc.ID, r.store, ttl, r.clock),
		desc:       desc,
		refreshAge: -1,
		lockTTL:    r.lockTTL,
		clock:      r.clock,
		keyLoader:  r.keyLoader,
		locker:     r.locker,
		pool:       r.pool,
	}
	if desc.HasRefresh() {
		c.refreshAge = desc.RefreshAge().Milliseconds()
	}
	return c
}
