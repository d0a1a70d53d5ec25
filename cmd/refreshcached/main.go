// Command refreshcached runs a refresh-ahead cache server in front of an
// origin HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipni/go-refreshcache/rcache"
	"github.com/ipni/go-refreshcache/server"
	"github.com/ipni/go-refreshcache/source/httpsource"
	"github.com/ipni/go-refreshcache/store"
	"github.com/ipni/go-refreshcache/store/dsstore"
	"github.com/ipni/go-refreshcache/store/redisstore"
	"github.com/ipni/go-refreshcache/workpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("refreshcached")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:   "refreshcached",
		Usage:  "Serve a refresh-ahead cache over HTTP",
		Flags:  flags,
		Action: run,
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen",
		Usage:   "HTTP listen address",
		Value:   "0.0.0.0:8080",
		EnvVars: []string{"REFRESHCACHE_LISTEN"},
	},
	&cli.StringFlag{
		Name:    "redis-addr",
		Usage:   "Redis address. If not set, entries are kept in process memory",
		EnvVars: []string{"REFRESHCACHE_REDIS_ADDR"},
	},
	&cli.StringFlag{
		Name:    "redis-prefix",
		Usage:   "Prefix added to all redis keys",
		EnvVars: []string{"REFRESHCACHE_REDIS_PREFIX"},
	},
	&cli.StringFlag{
		Name:    "origin",
		Usage:   "Origin URL that values are loaded from, as {origin}/{cache-id}/{key}",
		EnvVars: []string{"REFRESHCACHE_ORIGIN"},
	},
	&cli.IntFlag{
		Name:    "origin-retries",
		Usage:   "Maximum retries of a failed origin request",
		Value:   3,
		EnvVars: []string{"REFRESHCACHE_ORIGIN_RETRIES"},
	},
	&cli.DurationFlag{
		Name:    "origin-timeout",
		Usage:   "Timeout of a single origin request",
		Value:   10 * time.Second,
		EnvVars: []string{"REFRESHCACHE_ORIGIN_TIMEOUT"},
	},
	&cli.DurationFlag{
		Name:    "lock-ttl",
		Usage:   "How long a refresh lock is held before it expires",
		Value:   time.Minute,
		EnvVars: []string{"REFRESHCACHE_LOCK_TTL"},
	},
	&cli.DurationFlag{
		Name:    "default-ttl",
		Usage:   "TTL of entries in caches whose name has none. 0 means no expiration",
		EnvVars: []string{"REFRESHCACHE_DEFAULT_TTL"},
	},
	&cli.IntFlag{
		Name:    "pool-core",
		Usage:   "Number of refresh workers kept running",
		Value:   10,
		EnvVars: []string{"REFRESHCACHE_POOL_CORE"},
	},
	&cli.IntFlag{
		Name:    "pool-max",
		Usage:   "Maximum number of refresh workers",
		Value:   50,
		EnvVars: []string{"REFRESHCACHE_POOL_MAX"},
	},
	&cli.IntFlag{
		Name:    "pool-queue",
		Usage:   "Number of refreshes that can wait for a worker",
		Value:   1000,
		EnvVars: []string{"REFRESHCACHE_POOL_QUEUE"},
	},
	&cli.DurationFlag{
		Name:    "reject-log-interval",
		Usage:   "Minimum time between logs of rejected refreshes",
		Value:   5 * time.Second,
		EnvVars: []string{"REFRESHCACHE_REJECT_LOG_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "purge-interval",
		Usage:   "How often expired entries are removed from process memory. 0 disables",
		Value:   time.Minute,
		EnvVars: []string{"REFRESHCACHE_PURGE_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "shutdown-timeout",
		Usage:   "How long to wait for requests and refreshes to finish on shutdown",
		Value:   10 * time.Second,
		EnvVars: []string{"REFRESHCACHE_SHUTDOWN_TIMEOUT"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn, error",
		Value:   "info",
		EnvVars: []string{"REFRESHCACHE_LOG_LEVEL"},
	},
}

func run(cctx *cli.Context) error {
	lvl, err := logging.LevelFromString(cctx.String("log-level"))
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)

	var s store.Store
	var redisClient *redis.Client
	if addr := cctx.String("redis-addr"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		if err = redisClient.Ping(cctx.Context).Err(); err != nil {
			redisClient.Close()
			return fmt.Errorf("cannot connect to redis at %s: %w", addr, err)
		}
		s = redisstore.New(redisClient, cctx.String("redis-prefix"))
		log.Infow("Using redis store", "addr", addr)
	} else {
		ds, err := dsstore.New()
		if err != nil {
			return err
		}
		s = ds
		if interval := cctx.Duration("purge-interval"); interval > 0 {
			go purgeExpired(cctx.Context, ds, interval)
		}
		log.Info("Using in-process store")
	}

	var load rcache.KeyLoader
	if origin := cctx.String("origin"); origin != "" {
		src, err := httpsource.New(origin,
			httpsource.WithRetry(cctx.Int("origin-retries"), 100*time.Millisecond, 2*time.Second),
			httpsource.WithTimeout(cctx.Duration("origin-timeout")))
		if err != nil {
			return err
		}
		load = src.Load
		log.Infow("Loading values from origin", "url", src.String())
	}

	reg, err := rcache.NewRegistry(s,
		rcache.WithDefaultTTL(cctx.Duration("default-ttl")),
		rcache.WithKeyLoader(load),
		rcache.WithLockTTL(cctx.Duration("lock-ttl")),
		rcache.WithPoolOptions(
			workpool.WithCoreSize(cctx.Int("pool-core")),
			workpool.WithMaxSize(cctx.Int("pool-max")),
			workpool.WithQueueCapacity(cctx.Int("pool-queue")),
			workpool.WithRejectLogInterval(cctx.Duration("reject-log-interval")),
		))
	if err != nil {
		return err
	}

	srv, err := server.New(reg, load)
	if err != nil {
		return err
	}
	if err = srv.Start(cctx.String("listen")); err != nil {
		return err
	}

	<-cctx.Context.Done()
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cctx.Duration("shutdown-timeout"))
	defer cancel()

	var errs error
	if err = srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("error shutting down server: %w", err))
	}
	if err = reg.Close(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("error closing cache registry: %w", err))
	}
	if redisClient != nil {
		if err = redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = multierror.Append(errs, fmt.Errorf("error closing redis client: %w", err))
		}
	}
	return errs
}

func purgeExpired(ctx context.Context, ds *dsstore.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := ds.Purge(ctx)
			if err != nil {
				log.Errorw("Cannot purge expired entries", "err", err)
			}
			if n != 0 {
				log.Debugw("Purged expired entries", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
