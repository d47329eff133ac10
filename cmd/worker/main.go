package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/phishsim/internal/app"
	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/worker"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	if rt.DB == nil || !rt.SharedQueue() {
		log.Fatalf("Standalone worker needs DATABASE_URL and a redis or sqs DISPATCH_QUEUE")
	}

	// Jobs claimed by a worker that died mid-run go back on the queue.
	if rq, ok := rt.Queue.(*worker.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			logger.Warn("queue recovery failed", "error", err)
		} else if n > 0 {
			logger.Info("recovered in-flight dispatch jobs", "count", n)
		}
	}

	pool, err := rt.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize dispatch pool: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return rt.NewRetention().Start(gctx) })
	g.Go(func() error { return rt.NewScheduler().Start(gctx) })

	logger.Info("worker running", "workers", cfg.Dispatch.Workers, "queue", cfg.Dispatch.Queue)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped", "stats", pool.Stats())
}
