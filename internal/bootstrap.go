package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Engine bundles the routing and resiliency components of one process.
type Engine struct {
	Health   *HealthProbe
	Breaker  *CircuitBreaker
	Router   *Router
	Ledger   *Ledger
	Executor *PaymentExecutor
}

func NewEngine(cfg Config, upstreams map[UpstreamID]Upstream, store PaymentStore, events Publisher) *Engine {
	health := NewHealthProbe(upstreams, cfg.HealthCheckInterval, cfg.HealthCheckTimeout)
	breaker := NewCircuitBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	router := NewRouter(health, breaker)
	ledger := NewLedger(store, events)

	return &Engine{
		Health:   health,
		Breaker:  breaker,
		Router:   router,
		Ledger:   ledger,
		Executor: NewPaymentExecutor(router, breaker, upstreams, ledger, cfg.ChargeTimeout),
	}
}

func NewUpstreams(cfg Config) (map[UpstreamID]Upstream, error) {
	defaultClient, err := NewProcessorClient(cfg.DefaultURL)
	if err != nil {
		return nil, err
	}
	fallbackClient, err := NewProcessorClient(cfg.FallbackURL)
	if err != nil {
		return nil, err
	}

	return map[UpstreamID]Upstream{
		UpstreamDefault:  defaultClient,
		UpstreamFallback: fallbackClient,
	}, nil
}

// Resources holds the external connections opened at boot.
type Resources struct {
	Store  PaymentStore
	Redis  *redis.Client
	Events Publisher

	closers []func(context.Context) error
}

func (r *Resources) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			slog.Error("failed to close resource", "err", err)
		}
	}
}

func OpenResources(ctx context.Context, cfg Config) (*Resources, error) {
	res := &Resources{Events: NoopPublisher{}}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: "",
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		res.Redis = rdb
		res.closers = append(res.closers, func(context.Context) error { return rdb.Close() })
	}

	durable, err := openDurableStore(ctx, cfg, res)
	if err != nil {
		res.Close(ctx)
		return nil, err
	}
	res.Store = durable
	if res.Redis != nil && cfg.StoreBackend != StoreRedis {
		res.Store = NewCachedStore(durable, NewRedisStore(res.Redis))
	}

	if cfg.KafkaBroker != "" {
		publisher := NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		res.Events = publisher
		res.closers = append(res.closers, func(context.Context) error { return publisher.Close() })
	}

	slog.Info("resources ready",
		"store", cfg.StoreBackend,
		"cache", res.Redis != nil && cfg.StoreBackend != StoreRedis,
		"events", cfg.KafkaBroker != "",
	)
	return res, nil
}

func openDurableStore(ctx context.Context, cfg Config, res *Resources) (PaymentStore, error) {
	switch cfg.StoreBackend {
	case StoreRedis:
		return NewRedisStore(res.Redis), nil

	case StoreMongo:
		opts := options.
			Client().
			ApplyURI(cfg.MongoEndpoint).
			SetServerSelectionTimeout(time.Second * 5).
			SetMaxConnIdleTime(30 * time.Second).
			SetMinPoolSize(10).
			SetMaxPoolSize(100)

		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		res.closers = append(res.closers, client.Disconnect)
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}
		return NewMongoStore(client.Database(cfg.MongoDatabase)), nil

	case StorePostgres:
		pgCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("invalid POSTGRES_DSN: %w", err)
		}
		pgCfg.MinConns = 1
		pgCfg.MaxConns = 10

		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		res.closers = append(res.closers, func(context.Context) error { pool.Close(); return nil })

		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return NewMemoryStore(), nil
	}
}
