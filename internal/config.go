package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	DefaultURL  string
	FallbackURL string

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	ChargeTimeout       time.Duration

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	MonitorHealth bool

	StoreBackend  string
	RedisAddr     string
	MongoEndpoint string
	MongoDatabase string
	PostgresDSN   string

	KafkaBroker string
	KafkaTopic  string

	RetryFailed bool
	Workers     int

	EnableProfiling bool
}

func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "9999")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PAYMENT_PROCESSOR_URL_DEFAULT", "http://localhost:8001")
	v.SetDefault("PAYMENT_PROCESSOR_URL_FALLBACK", "http://localhost:8002")
	v.SetDefault("HEALTH_CHECK_INTERVAL", 5*time.Second)
	v.SetDefault("HEALTH_CHECK_TIMEOUT", time.Second)
	v.SetDefault("CHARGE_TIMEOUT", 2*time.Second)
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_COOLDOWN", 30*time.Second)
	v.SetDefault("MONITOR_HEALTH", false)
	v.SetDefault("STORE_BACKEND", StoreMemory)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("MONGO_ENDPOINT", "")
	v.SetDefault("MONGO_DATABASE", "payments-db")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("KAFKA_BROKER", "")
	v.SetDefault("KAFKA_TOPIC", "payments.recorded")
	v.SetDefault("RETRY_FAILED", false)
	v.SetDefault("WORKERS", 5)
	v.SetDefault("ENABLE_PROFILING", false)

	cfg := Config{
		Port:                    v.GetString("PORT"),
		DefaultURL:              v.GetString("PAYMENT_PROCESSOR_URL_DEFAULT"),
		FallbackURL:             v.GetString("PAYMENT_PROCESSOR_URL_FALLBACK"),
		HealthCheckInterval:     v.GetDuration("HEALTH_CHECK_INTERVAL"),
		HealthCheckTimeout:      v.GetDuration("HEALTH_CHECK_TIMEOUT"),
		ChargeTimeout:           v.GetDuration("CHARGE_TIMEOUT"),
		BreakerFailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		BreakerCooldown:         v.GetDuration("BREAKER_COOLDOWN"),
		MonitorHealth:           v.GetBool("MONITOR_HEALTH"),
		StoreBackend:            strings.ToLower(v.GetString("STORE_BACKEND")),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		MongoEndpoint:           v.GetString("MONGO_ENDPOINT"),
		MongoDatabase:           v.GetString("MONGO_DATABASE"),
		PostgresDSN:             v.GetString("POSTGRES_DSN"),
		KafkaBroker:             v.GetString("KAFKA_BROKER"),
		KafkaTopic:              v.GetString("KAFKA_TOPIC"),
		RetryFailed:             v.GetBool("RETRY_FAILED"),
		Workers:                 v.GetInt("WORKERS"),
		EnableProfiling:         v.GetBool("ENABLE_PROFILING"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("STORE_BACKEND=%s requires REDIS_ADDR", c.StoreBackend)
		}
	case StoreMongo:
		if c.MongoEndpoint == "" {
			return fmt.Errorf("STORE_BACKEND=%s requires MONGO_ENDPOINT", c.StoreBackend)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_BACKEND=%s requires POSTGRES_DSN", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.RetryFailed && c.RedisAddr == "" {
		return fmt.Errorf("RETRY_FAILED requires REDIS_ADDR for the retry queue")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.BreakerFailureThreshold)
	}
	if c.HealthCheckInterval <= 0 || c.ChargeTimeout <= 0 || c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health interval and timeouts must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}

	return nil
}
