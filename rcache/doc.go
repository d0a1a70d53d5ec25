// Package rcache provides refresh-ahead caches that serve possibly-stale
// values immediately and refresh them in the background.
//
// Cached entries are kept in a shared store.Store, such as Redis, so that all
// processes using the same store see the same entries. No entry is mirrored
// in process memory.
//
// ## Cache Names
//
// Caches are obtained from a Registry by name. The name carries the expiration
// policy of the cache, as parsed by the cachename package:
//
//	users             entries use the registry default TTL, never refreshed
//	users#300         entries expire after 300 seconds, never refreshed
//	users#300#60      entries are refreshed after 240 seconds, expire after 360
//
// The same name always resolves to the same Cache.
//
// ## Logical and Physical Expiration
//
// For a cache named id#ttl#window, an entry is stale once its age exceeds
// ttl-window. It remains in the store until ttl+window, which leaves time to
// refresh it before it is evicted. A read of a stale entry returns the stale
// value without waiting, and starts a background refresh.
//
// ## Single-Flight Refresh
//
// Before a refresh is started, a lock for the entry is acquired in the store.
// If the lock is already held, another refresh is in progress, possibly in
// another process, and no refresh is started. The lock is released when the
// refresh completes, whether or not it succeeded. A lock expires after the
// lock TTL, so a refresh that takes longer than that can overlap with another
// refresh of the same entry.
//
// ## Cold Loads
//
// GetOrLoad on a missing entry calls the loader while the caller waits.
// Concurrent loads of the same key in one process are serialized by a striped
// mutex, and callers that waited read the value stored by the first. Loads in
// separate processes are not coordinated.
//
// ## Refresh Worker Pool
//
// Refreshes run in a bounded worker pool owned by the Registry. When the pool
// is saturated, refreshes are discarded and the entry stays stale until a
// later read triggers another refresh. Close the Registry to shut down the
// pool.
package rcache
