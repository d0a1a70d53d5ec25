package server

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultHandlerPath  = "/cache"
	defaultMaxValueSize = 1 << 20
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// config contains all options for configuring Server.
type config struct {
	handlerPath  string
	maxValueSize int64
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		handlerPath:  defaultHandlerPath,
		maxValueSize: defaultMaxValueSize,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithHandlerPath sets the path under which cache entries are served, as
// {path}/{name}/{key}.
//
// Default is "/cache".
func WithHandlerPath(urlPath string) Option {
	return func(c *config) error {
		c.handlerPath = urlPath
		return nil
	}
}

// WithMaxValueSize sets the largest value accepted by a PUT request.
func WithMaxValueSize(size int64) Option {
	return func(c *config) error {
		if size <= 0 {
			return errors.New("max value size must be positive")
		}
		c.maxValueSize = size
		return nil
	}
}

// WithReadTimeout sets the HTTP server read timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets the HTTP server write timeout. This bounds how long a
// cold load from the origin can take.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		c.writeTimeout = timeout
		return nil
	}
}
