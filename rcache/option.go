package rcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipni/go-refreshcache/workpool"
)

const (
	defaultLockTTL  = 60 * time.Second
	defaultPoolName = "cache-refresh"
)

type config struct {
	clock      clock.Clock
	defaultTTL time.Duration
	keyLoader  KeyLoader
	lockTTL    time.Duration
	poolName   string
	poolOpts   []workpool.Option
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:    clock.New(),
		lockTTL:  defaultLockTTL,
		poolName: defaultPoolName,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClock sets the clock used to timestamp and age cache entries. This must
// be the same clock that the store uses to expire entries.
func WithClock(clk clock.Clock) Option {
	return func(cfg *config) error {
		if clk != nil {
			cfg.clock = clk
		}
		return nil
	}
}

// WithDefaultTTL sets the TTL of entries in caches whose name does not specify
// one. A value of 0 means that such entries do not expire.
//
// Default is 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl < 0 {
			return errors.New("default ttl cannot be negative")
		}
		cfg.defaultTTL = ttl
		return nil
	}
}

// WithKeyLoader sets the function that Get uses to recompute stale entries.
// Without a key loader, only GetOrLoad refreshes stale entries.
func WithKeyLoader(loader KeyLoader) Option {
	return func(cfg *config) error {
		cfg.keyLoader = loader
		return nil
	}
}

// WithLockTTL sets how long a refresh lock is held before it expires. A
// refresh that runs longer than this may overlap with another refresh of the
// same key.
//
// Default is 60 seconds.
func WithLockTTL(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl <= 0 {
			return errors.New("lock ttl must be positive")
		}
		cfg.lockTTL = ttl
		return nil
	}
}

// WithPoolName sets the name of the refresh worker pool.
func WithPoolName(name string) Option {
	return func(cfg *config) error {
		cfg.poolName = name
		return nil
	}
}

// WithPoolOptions sets options for the refresh worker pool.
func WithPoolOptions(opts ...workpool.Option) Option {
	return func(cfg *config) error {
		cfg.poolOpts = append(cfg.poolOpts, opts...)
		return nil
	}
}
