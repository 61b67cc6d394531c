package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"rinha-router-2025/internal"
	"rinha-router-2025/pkg/profiling"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.LoadConfig()
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}
	slog.SetLogLoggerLevel(cfg.LogLevel)

	if cfg.RedisAddr == "" {
		panic("the worker needs REDIS_ADDR for the retry queue")
	}
	if cfg.StoreBackend == internal.StoreMemory {
		panic("the worker needs a shared STORE_BACKEND, not memory")
	}

	if cfg.EnableProfiling {
		if err := profiling.EnableProfiling("prof", time.Minute*2); err != nil {
			slog.Error("failed to enable profiling", "err", err)
		}
	}

	upstreams, err := internal.NewUpstreams(cfg)
	if err != nil {
		panic(err)
	}

	res, err := internal.OpenResources(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer res.Close(context.Background())

	queue := internal.NewRedisRetryQueue(res.Redis)
	engine := internal.NewEngine(cfg, upstreams, res.Store, res.Events)
	engine.Executor.WithRetryQueue(queue)
	if cfg.MonitorHealth {
		engine.Health.EnableHealthCheck(ctx)
	}

	worker := internal.NewRetryWorker(queue, engine.Executor, cfg.Workers)
	worker.StartWorkers(ctx)
	slog.Info("retry worker started", "workers", cfg.Workers)

	<-ctx.Done()
	slog.Info("shutting down worker")
}
