// Package main is the entry point for the GoURL visit-counter API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gourl/gourl/internal/buffer"
	"github.com/gourl/gourl/internal/config"
	"github.com/gourl/gourl/internal/counter"
	"github.com/gourl/gourl/internal/handlers"
	"github.com/gourl/gourl/internal/readcache"
	"github.com/gourl/gourl/internal/registry"
	"github.com/gourl/gourl/internal/server"
	"github.com/gourl/gourl/internal/shardmgr"
	"github.com/gourl/gourl/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.App.LogLevel)
	log = log.With("service", "gourl", "env", cfg.App.Env)

	log.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var reg *registry.Registry
	if cfg.Registry.Enabled() {
		log.Info("connecting to shard registry")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
		pool, err := registry.NewPool(ctx, cfg.Registry.DSN, int32(cfg.Shards.PoolSize))
		cancel()

		if err != nil {
			log.Warn("shard registry connection failed, continuing without it",
				"error", err.Error(),
			)
		} else {
			reg = registry.New(pool)

			migrateCtx, migrateCancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
			if _, err := registry.NewMigrator(pool).Up(migrateCtx); err != nil {
				log.Warn("shard registry migration failed", "error", err.Error())
			}
			migrateCancel()

			defer pool.Close()
			log.Info("shard registry connected successfully")
		}
	} else {
		log.Info("shard registry not configured, skipping connection")
	}

	shardCfg := shardmgr.Config{
		ShardURLs:     cfg.Shards.URLs,
		VirtualNodes:  cfg.Shards.VirtualNodes,
		RetryAttempts: cfg.Shards.RetryAttempts,
		ShardTimeout:  cfg.Shards.ShardTimeout,
		PoolSize:      cfg.Shards.PoolSize,
		ProbeInterval: cfg.Shards.ProbeInterval,
	}
	if reg != nil {
		shardCfg.OnHealthChange = func(shard string, healthy bool) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Shards.ShardTimeout)
			defer cancel()
			if err := reg.RecordHealthEvent(ctx, shard, healthy); err != nil {
				log.Warn("failed to record shard health event", "shard", shard, "error", err.Error())
			}
		}
	}

	shards, err := shardmgr.New(shardCfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize shard manager: %w", err)
	}
	defer shards.Shutdown()
	log.Info("shard manager initialized", "shards", len(cfg.Shards.URLs))

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
		for _, url := range cfg.Shards.URLs {
			if err := reg.RecordShard(ctx, url); err != nil {
				log.Warn("failed to record shard membership", "shard", url, "error", err.Error())
			}
		}
		cancel()
	}

	buf := buffer.New(shards, cfg.Counter.BatchInterval, log)
	defer buf.Stop()

	cache := readcache.New(cfg.Counter.CacheCapacity, cfg.Counter.CacheTTL, cfg.Counter.CacheSweep)
	defer cache.Stop()

	counterService := counter.New(shards, buf, cache, log)
	counterHandler := handlers.NewCounterHandler(counterService)

	srv := server.New(cfg, log, counterHandler)

	srv.HealthHandler().AddCheck("shards", func() bool {
		return shards.Status().HealthyShards > 0
	})
	if reg != nil {
		srv.HealthHandler().AddCheck("registry", func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Shards.ShardTimeout)
			defer cancel()
			_, err := reg.Members(ctx)
			return err == nil
		})
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		log.Info("server stopped gracefully")
	}

	return nil
}
