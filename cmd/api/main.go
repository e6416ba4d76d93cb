package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/quorum/internal/config"
	"github.com/congo-pay/quorum/internal/infra"
	"github.com/congo-pay/quorum/internal/logging"
	"github.com/congo-pay/quorum/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backends server.Backends

	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			return err
		}
		backends.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, wallets and payouts are not shared across instances")
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		backends.Cache = cache
	}

	if backends.DB == nil && cfg.BadgerPath != "" {
		kv, err := infra.OpenBadger(cfg.BadgerPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := kv.Close(); err != nil {
				logger.Warn("close badger", "error", err)
			}
		}()
		backends.Badger = kv
	}

	srv, err := server.New(ctx, cfg, backends, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "address", cfg.Address(), "env", cfg.Env)
		return srv.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
