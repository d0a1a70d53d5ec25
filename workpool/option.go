package workpool

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultCoreSize          = 10
	defaultMaxSize           = 50
	defaultQueueCapacity     = 1000
	defaultKeepAlive         = time.Minute
	defaultRejectLogInterval = 5 * time.Second
)

type config struct {
	clock             clock.Clock
	coreSize          int
	keepAlive         time.Duration
	maxSize           int
	queueCapacity     int
	rejectLogInterval time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:             clock.New(),
		coreSize:          defaultCoreSize,
		keepAlive:         defaultKeepAlive,
		maxSize:           defaultMaxSize,
		queueCapacity:     defaultQueueCapacity,
		rejectLogInterval: defaultRejectLogInterval,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	if cfg.maxSize < cfg.coreSize {
		return config{}, fmt.Errorf("max size %d less than core size %d", cfg.maxSize, cfg.coreSize)
	}
	return cfg, nil
}

// WithClock sets the clock used to rate-limit rejection logging.
func WithClock(clk clock.Clock) Option {
	return func(cfg *config) error {
		if clk != nil {
			cfg.clock = clk
		}
		return nil
	}
}

// WithCoreSize sets the number of workers that are always running.
//
// Default is 10.
func WithCoreSize(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("core size must be at least 1")
		}
		cfg.coreSize = n
		return nil
	}
}

// WithMaxSize sets the maximum number of workers. Workers beyond the core
// size are started only when the queue is full, and exit after being idle for
// the keep-alive time.
//
// Default is 50.
func WithMaxSize(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("max size must be at least 1")
		}
		cfg.maxSize = n
		return nil
	}
}

// WithQueueCapacity sets the number of tasks that can wait for a worker. When
// the queue is full and no more workers can be started, submitted tasks are
// discarded.
//
// Default is 1000.
func WithQueueCapacity(n int) Option {
	return func(cfg *config) error {
		if n < 0 {
			return errors.New("queue capacity cannot be negative")
		}
		cfg.queueCapacity = n
		return nil
	}
}

// WithKeepAlive sets how long a non-core worker waits for a task before
// exiting.
//
// Default is 1 minute.
func WithKeepAlive(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("keep-alive must be positive")
		}
		cfg.keepAlive = d
		return nil
	}
}

// WithRejectLogInterval sets the minimum time between log messages about
// discarded tasks.
//
// Default is 5 seconds.
func WithRejectLogInterval(d time.Duration) Option {
	return func(cfg *config) error {
		cfg.rejectLogInterval = d
		return nil
	}
}
