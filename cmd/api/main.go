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

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.LoadConfig()
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}
	slog.SetLogLoggerLevel(cfg.LogLevel)

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

	engine := internal.NewEngine(cfg, upstreams, res.Store, res.Events)
	if cfg.RetryFailed {
		engine.Executor.WithRetryQueue(internal.NewRedisRetryQueue(res.Redis))
	}
	if cfg.MonitorHealth {
		engine.Health.EnableHealthCheck(ctx)
	}

	app := fiber.New(fiber.Config{
		JSONEncoder: sonicMarshal,
		JSONDecoder: sonicUnmarshal,

		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: false,
		AppName:       "Payment Router",
	})

	handler := internal.NewPaymentHandler(engine.Executor, engine.Ledger, engine.Health, engine.Breaker)
	handler.RegisterRoutes(app)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("failed to shut down", "err", err)
		}
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		panic(fmt.Errorf("failed to listen to port: %w", err))
	}
}

func sonicMarshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func sonicUnmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
