// Package dlock provides a TTL-bounded lock held in a shared key-value store.
//
// A lock is a key set, only if absent, to a random token with an expiration.
// The holder releases the lock by deleting the key, but only while the key
// still holds its token. If the holder dies, or outlives the lock TTL, the
// lock expires and can be acquired by another holder.
package dlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/store"
)

var log = logging.Logger("dlock")

const (
	keySeparator = "::"
	lockSuffix   = "~lock"
)

// Locker acquires and releases locks in a store.
type Locker struct {
	store store.Store
}

// New creates a Locker that keeps locks in s.
func New(s store.Store) *Locker {
	return &Locker{
		store: s,
	}
}

// LockKey returns the key of the lock that guards the refresh of key in the
// cache identified by cacheID.
func LockKey(cacheID, key string) string {
	return cacheID + keySeparator + key + lockSuffix
}

// TryAcquire attempts to take the lock at lockKey for ttl. It returns the
// lock token and true if the lock was acquired, or false if the lock is
// already held.
func (l *Locker) TryAcquire(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, lockKey, []byte(token), ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock at lockKey if it is still held with token. A lock
// that has expired or has been acquired by another holder is left alone.
// Errors are logged and not returned, since an unreleased lock expires on its
// own.
func (l *Locker) Release(ctx context.Context, lockKey, token string) {
	if token == "" {
		return
	}
	if cad, ok := l.store.(store.CompareAndDeleter); ok {
		if _, err := cad.CompareAndDelete(ctx, lockKey, []byte(token)); err != nil {
			log.Errorw("Cannot release lock", "key", lockKey, "err", err)
		}
		return
	}

	cur, err := l.store.Get(ctx, lockKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Errorw("Cannot read lock", "key", lockKey, "err", err)
		}
		return
	}
	if string(cur) != token {
		log.Debugw("Lock held by another holder, not releasing", "key", lockKey)
		return
	}
	if err = l.store.Delete(ctx, lockKey); err != nil {
		log.Errorw("Cannot release lock", "key", lockKey, "err", err)
	}
}
