package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/phishsim/internal/api"
	"github.com/ignite/phishsim/internal/app"
	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/export"
	"github.com/ignite/phishsim/internal/pkg/httputil"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/repository/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv(configPath())
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

	if rt.DB != nil {
		applied, err := postgres.Migrate(ctx, rt.DB)
		if err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "versions", applied)
		}
	}

	archiver, err := export.NewArchiver(ctx, cfg.Export)
	if err != nil {
		log.Fatalf("Failed to initialize export archive: %v", err)
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		log.Fatalf("Invalid trusted proxies: %v", err)
	}

	server := api.NewServer(api.Deps{
		Campaigns:      rt.Campaigns,
		Tracking:       rt.Tracking,
		Analytics:      rt.Analytics,
		Archiver:       archiver,
		Health:         api.NewHealthChecker(rt.DB, rt.Redis),
		Company:        cfg.Mail.Company,
		TrustedProxies: proxies,
	}, cfg.Server)

	g, gctx := errgroup.WithContext(ctx)

	// Without a shared queue nobody else can see launched jobs, so the
	// dispatch pool and retention run in this process.
	if !rt.SharedQueue() {
		pool, err := rt.NewPool(gctx)
		if err != nil {
			log.Fatalf("Failed to initialize dispatch pool: %v", err)
		}
		g.Go(func() error { return pool.Run(gctx) })
		g.Go(func() error { return rt.NewRetention().Start(gctx) })
		g.Go(func() error { return rt.NewScheduler().Start(gctx) })
		logger.Info("embedded dispatch workers started", "workers", cfg.Dispatch.Workers)
	}

	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Addr(), "base_url", cfg.Tracking.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
