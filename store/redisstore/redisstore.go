// Package redisstore implements store.Store on a Redis server.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/ipni/go-refreshcache/store"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete deletes KEYS[1] only if it holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is a store.Store that keeps values in Redis. Expiration is handled by
// Redis, so all processes sharing the server see the same entries expire.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ store.Store             = (*Store)(nil)
	_ store.CompareAndDeleter = (*Store)(nil)
)

// New creates a Store using an existing Redis client. The client is not
// closed by the Store. If prefix is not empty, it is prepended to every key.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

// Get returns the value at key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores value at key with the given ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// SetNX stores value at key if the key is absent.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// CompareAndDelete atomically removes key only if it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{s.prefix + key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
