// Package main boots the dimension aggregation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/dim-aggregator/internal/config"
	"github.com/fairyhunter13/dim-aggregator/internal/consumer"
	"github.com/fairyhunter13/dim-aggregator/internal/dim"
	httpapi "github.com/fairyhunter13/dim-aggregator/internal/http"
	"github.com/fairyhunter13/dim-aggregator/internal/obs"
	"github.com/fairyhunter13/dim-aggregator/internal/queue"
	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "dim-aggregator",
		Usage:   "re-materializes dimension aggregates from raw cache records on change notifications",
		Version: versioninfo.Short(),
	}
	app.Commands = []*cli.Command{
		runCmd,
	}
	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "consume change notifications and serve the operations API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "redis-url",
			Usage: "redis URL of the cache holding raw records and aggregates (env REDIS_URL)",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "store backend: redis or memory (env STORE_BACKEND)",
		},
		&cli.StringFlag{
			Name:  "queue-name",
			Usage: "redis list carrying change notifications (env QUEUE_NAME)",
		},
		&cli.BoolFlag{
			Name:  "consume",
			Usage: "consume notifications from the redis list (env CONSUME_ENABLED)",
		},
		&cli.BoolFlag{
			Name:  "dead-letter",
			Usage: "push failed notifications to <queue-name>:failed (env DEAD_LETTER_ENABLED)",
		},
		&cli.BoolFlag{
			Name:  "batched-reads",
			Usage: "read product records with a single MGET (env BATCHED_READS)",
		},
		&cli.StringFlag{
			Name:  "http-addr",
			Usage: "IP or address, and port, to listen on for the operations API (env HTTP_ADDR)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log verbosity: debug, info, warn, error (env LOG_LEVEL)",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg := applyFlags(cctx, config.Load())
		obs.InitLogger(cfg.LogLevel)
		obs.Logger.Info("service_starting", "version", versioninfo.Short(), "store", cfg.StoreBackend, "queue", cfg.QueueName)

		shutdownTracing, err := setupTracing(context.Background())
		if err != nil {
			return err
		}
		defer shutdownTracing()

		return serve(cfg)
	},
}

// applyFlags overrides environment configuration with explicitly set flags.
func applyFlags(cctx *cli.Context, cfg config.Config) config.Config {
	if cctx.IsSet("redis-url") {
		cfg.RedisURL = cctx.String("redis-url")
	}
	if cctx.IsSet("store") {
		cfg.StoreBackend = cctx.String("store")
	}
	if cctx.IsSet("queue-name") {
		cfg.QueueName = cctx.String("queue-name")
	}
	if cctx.IsSet("consume") {
		cfg.ConsumeEnabled = cctx.Bool("consume")
	}
	if cctx.IsSet("dead-letter") {
		cfg.DeadLetterEnabled = cctx.Bool("dead-letter")
	}
	if cctx.IsSet("batched-reads") {
		cfg.BatchedReads = cctx.Bool("batched-reads")
	}
	if cctx.IsSet("http-addr") {
		cfg.HTTPAddr = cctx.String("http-addr")
	}
	if cctx.IsSet("log-level") {
		cfg.LogLevel = cctx.String("log-level")
	}
	return cfg
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, *redis.Client, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemStore(), nil, nil
	case "redis", "":
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Client, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func serve(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, rdb, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if rdb == nil {
		if cfg.DeadLetterEnabled {
			obs.Logger.Warn("dead_letter_disabled", "reason", "memory store backend")
			cfg.DeadLetterEnabled = false
		}
		if cfg.ConsumeEnabled {
			obs.Logger.Warn("consumer_disabled", "reason", "memory store backend", "queue", cfg.QueueName)
			cfg.ConsumeEnabled = false
		}
	}

	reg := dim.DefaultRegistry(cfg.BatchedReads)
	handler := dim.NewHandler(st, reg, cfg.LockStripes)

	q := queue.New(128)
	mgr := queue.NewManager(cfg, q, handler)
	if cfg.DeadLetterEnabled {
		mgr.SetFailureSink(&consumer.RedisDeadLetter{Client: rdb, List: cfg.DeadLetterQueue()})
	}
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	mgr.Start(workCtx)

	app := httpapi.NewApp(cfg, st, reg, mgr)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.ConsumeEnabled {
		c := &consumer.RedisListConsumer{
			Client:       rdb,
			Queue:        cfg.QueueName,
			BlockTimeout: cfg.ConsumeBlockTimeout,
			Target:       mgr,
		}
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		obs.Logger.Info("shutdown_signal")

		app.StartShutdown()
		obs.Logger.Info("shutdown_drain_begin", "backlog_size", mgr.BacklogSize(), "worker_count", mgr.WorkerCount())
		ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelDrain()
		if drained := mgr.DrainUntil(ctxDrain); !drained {
			obs.Logger.Warn("shutdown_drain_timeout")
		} else {
			obs.Logger.Info("shutdown_drain_complete")
		}

		ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSrv()
		if err := srv.Shutdown(ctxSrv); err != nil {
			obs.Logger.Error("http_shutdown_error", "error", err)
		}
		mgr.Stop()
		return nil
	})

	err = g.Wait()
	obs.Logger.Info("service_stopped")
	return err
}
