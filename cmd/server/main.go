package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/muzz-matchmaker/internal/api"
	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	"github.com/oggyb/muzz-matchmaker/internal/logger"
	"github.com/oggyb/muzz-matchmaker/internal/server"
	"github.com/oggyb/muzz-matchmaker/internal/service/curation"
	"github.com/oggyb/muzz-matchmaker/internal/service/matchmaking"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)

	if err := run(cfg); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config) error {
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}

	// Init Redis; the engine keeps serving without it, so a failed ping only warns
	rdb := cache.NewRedisClient(cfg)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable at startup, caches and quotas fail open", "addr", cfg.Redis.Addr, "err", err)
	}

	appCtx := app.New(cfg, database, rdb, log)

	if cfg.App.Env == "development" {
		if err := db.SeedTestData(database, 200, log); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	if cfg.Curation.Enabled {
		jobs := curation.NewService(appCtx)
		if err := jobs.Start(ctx); err != nil {
			return fmt.Errorf("start curation scheduler: %w", err)
		}
		defer jobs.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartGRPCServer(gctx, cfg, log, matchmaking.NewRegistrar(appCtx))
	})
	if cfg.HTTP.Enabled {
		g.Go(func() error {
			return server.StartHTTPServer(gctx, cfg, log, api.NewRouter(appCtx))
		})
	}
	return g.Wait()
}
