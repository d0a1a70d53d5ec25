// Package store defines the key-value store that backs refresh-ahead caches.
//
// The store is the single source of truth for cached entries and for refresh
// locks, so that any number of processes sharing one store see the same
// entries and coordinate refreshes through it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a key-value store with per-key expiration. A ttl of zero means the
// key does not expire.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the value at key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores the value at key only if the key is absent. Returns true
	// if the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// CompareAndDeleter is implemented by stores that can atomically delete a key
// only if it holds an expected value.
type CompareAndDeleter interface {
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
}
