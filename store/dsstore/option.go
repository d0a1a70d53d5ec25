package dsstore

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
)

type config struct {
	clock clock.Clock
	ds    datastore.Datastore
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	var cfg config
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	if cfg.ds == nil {
		cfg.ds = dssync.MutexWrap(datastore.NewMapDatastore())
	}
	return cfg, nil
}

// WithClock sets the clock used to compute and check expiration times.
func WithClock(clk clock.Clock) Option {
	return func(cfg *config) error {
		cfg.clock = clk
		return nil
	}
}

// WithDatastore sets the datastore that holds the records. The default is an
// in-memory map datastore.
func WithDatastore(ds datastore.Datastore) Option {
	return func(cfg *config) error {
		cfg.ds = ds
		return nil
	}
}
