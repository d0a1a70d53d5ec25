package rcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipni/go-refreshcache/envelope"
	"github.com/ipni/go-refreshcache/store"
)

const keySeparator = "::"

// Interface is the set of operations common to all caches.
type Interface interface {
	// Get returns the cached value for key, and false if there is none.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put caches value for key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error
	// Evict removes any cached value for key.
	Evict(ctx context.Context, key string) error
}

// StoreCache is a plain cache that keeps envelopes in a store, each under the
// key {id}::{key}, expiring after a fixed TTL.
type StoreCache struct {
	id    string
	store store.Store
	ttl   time.Duration
	clock clock.Clock
}

var _ Interface = (*StoreCache)(nil)

// NewStoreCache creates a StoreCache. A ttl of zero means entries do not
// expire.
func NewStoreCache(id string, s store.Store, ttl time.Duration, clk clock.Clock) *StoreCache {
	if clk == nil {
		clk = clock.New()
	}
	return &StoreCache{
		id:    id,
		store: s,
		ttl:   ttl,
		clock: clk,
	}
}

// ID returns the cache ID.
func (sc *StoreCache) ID() string {
	return sc.id
}

// TTL returns the TTL applied to stored entries.
func (sc *StoreCache) TTL() time.Duration {
	return sc.ttl
}

// Get returns the cached value for key.
func (sc *StoreCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	env, ok, err := sc.getEnvelope(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return env.Value, true, nil
}

// Put wraps value in a new envelope and stores it.
func (sc *StoreCache) Put(ctx context.Context, key string, value []byte) error {
	data, err := envelope.Encode(envelope.New(value, sc.clock.Now().UnixMilli()))
	if err != nil {
		return err
	}
	if err = sc.store.Set(ctx, sc.storeKey(key), data, sc.ttl); err != nil {
		return fmt.Errorf("cannot write cache entry: %w", err)
	}
	return nil
}

// Evict deletes the entry for key.
func (sc *StoreCache) Evict(ctx context.Context, key string) error {
	if err := sc.store.Delete(ctx, sc.storeKey(key)); err != nil {
		return fmt.Errorf("cannot delete cache entry: %w", err)
	}
	return nil
}

func (sc *StoreCache) storeKey(key string) string {
	return sc.id + keySeparator + key
}

// getEnvelope reads the envelope for key. An entry that cannot be decoded is
// treated as absent, so that it gets overwritten.
func (sc *StoreCache) getEnvelope(ctx context.Context, key string) (envelope.Envelope, bool, error) {
	data, err := sc.store.Get(ctx, sc.storeKey(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return envelope.Envelope{}, false, nil
		}
		return envelope.Envelope{}, false, fmt.Errorf("cannot read cache entry: %w", err)
	}
	env, err := envelope.Decode(data)
	if err != nil {
		log.Warnw("Ignoring undecodable cache entry", "cache", sc.id, "key", key, "err", err)
		return envelope.Envelope{}, false, nil
	}
	return env, true, nil
}
