// Package dsstore implements store.Store on top of a go-datastore Datastore.
//
// Each record is stored with its absolute expiration time. Expired records
// are treated as absent when read, and are removed from the datastore when
// read or when Purge is called.
package dsstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/store"
	"github.com/mr-tron/base58"
)

var log = logging.Logger("dsstore")

var rootKey = datastore.NewKey("/refreshcache")

// expiresAt header length
const headerLen = 8

// Store is a store.Store backed by a datastore. Writes are serialized so that
// SetNX and CompareAndDelete are atomic with respect to other writes through
// the same Store.
type Store struct {
	clock clock.Clock
	ds    datastore.Datastore
	mutex sync.Mutex
}

var (
	_ store.Store             = (*Store)(nil)
	_ store.CompareAndDeleter = (*Store)(nil)
)

// New creates a new datastore-backed store.
func New(options ...Option) (*Store, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Store{
		clock: opts.clock,
		ds:    opts.ds,
	}, nil
}

func dsKey(key string) datastore.Key {
	return rootKey.ChildString(base58.Encode([]byte(key)))
}

// Get returns the value at key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	dk := dsKey(key)
	rec, err := s.ds.Get(ctx, dk)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	val, expired, err := s.decode(rec)
	if err != nil {
		return nil, fmt.Errorf("cannot decode record %q: %w", key, err)
	}
	if expired {
		s.mutex.Lock()
		_, err = s.deleteIfExpired(ctx, dk)
		s.mutex.Unlock()
		if err != nil {
			log.Errorw("Cannot delete expired record", "key", key, "err", err)
		}
		return nil, store.ErrNotFound
	}
	return val, nil
}

// Set stores value at key with the given ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ds.Put(ctx, dsKey(key), s.encode(value, ttl))
}

// SetNX stores value at key if no unexpired value is present.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	dk := dsKey(key)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, found, err := s.load(ctx, dk)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err = s.ds.Put(ctx, dk, s.encode(value, ttl)); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ds.Delete(ctx, dsKey(key))
}

// CompareAndDelete removes key only if it currently holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	dk := dsKey(key)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	cur, found, err := s.load(ctx, dk)
	if err != nil || !found {
		return false, err
	}
	if string(cur) != string(value) {
		return false, nil
	}
	if err = s.ds.Delete(ctx, dk); err != nil {
		return false, err
	}
	return true, nil
}

// Purge removes all expired records from the datastore and returns the number
// removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	results, err := s.ds.Query(ctx, query.Query{Prefix: rootKey.String()})
	if err != nil {
		return 0, err
	}
	defer results.Close()

	var expired []datastore.Key
	for r := range results.Next() {
		if r.Error != nil {
			return 0, r.Error
		}
		_, isExpired, err := s.decode(r.Value)
		if err != nil {
			log.Warnw("Removing undecodable record", "key", r.Key, "err", err)
			isExpired = true
		}
		if isExpired {
			expired = append(expired, datastore.RawKey(r.Key))
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var errs error
	var count int
	for _, dk := range expired {
		deleted, err := s.deleteIfExpired(ctx, dk)
		if err != nil {
			errs = multierror.Append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if deleted {
			count++
		}
	}
	if count != 0 {
		log.Debugw("Purged expired records", "count", count)
	}
	return count, errs
}

// load reads the record at dk. Must be called with mutex held.
func (s *Store) load(ctx context.Context, dk datastore.Key) ([]byte, bool, error) {
	rec, err := s.ds.Get(ctx, dk)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, expired, err := s.decode(rec)
	if err != nil || expired {
		// Corrupt and expired records are replaceable.
		return nil, false, nil
	}
	return val, true, nil
}

// deleteIfExpired re-reads the record under the mutex, since it may have been
// rewritten after it was seen as expired. Must be called with mutex held.
func (s *Store) deleteIfExpired(ctx context.Context, dk datastore.Key) (bool, error) {
	rec, err := s.ds.Get(ctx, dk)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, expired, err := s.decode(rec); err == nil && !expired {
		return false, nil
	}
	if err = s.ds.Delete(ctx, dk); err != nil {
		return false, fmt.Errorf("cannot delete %s: %w", dk, err)
	}
	return true, nil
}

func (s *Store) encode(value []byte, ttl time.Duration) []byte {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl).UnixNano()
	}
	rec := make([]byte, headerLen+len(value))
	binary.BigEndian.PutUint64(rec, uint64(expiresAt))
	copy(rec[headerLen:], value)
	return rec
}

func (s *Store) decode(rec []byte) ([]byte, bool, error) {
	if len(rec) < headerLen {
		return nil, false, errors.New("record too short")
	}
	expiresAt := int64(binary.BigEndian.Uint64(rec))
	if expiresAt != 0 && s.clock.Now().UnixNano() >= expiresAt {
		return nil, true, nil
	}
	return rec[headerLen:], false, nil
}
