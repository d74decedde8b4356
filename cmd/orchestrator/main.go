package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orchex/internal/config"
	"orchex/orchestrator"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := loadConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	orch.Stop()
	log.Info("shutdown complete")
}

func loadConfig() (*config.Config, error) {
	instance := getEnv("ORCHEX_INSTANCE", hostnameOr("orchex-1"))

	opts := []config.Option{
		config.WithHTTP(uint(getEnvInt("ORCHEX_HTTP_PORT", int(config.DefaultHTTPPort)))),
		config.WithTickInterval(getEnvDuration("ORCHEX_TICK_INTERVAL", config.DefaultTickInterval)),
		config.WithVisibility(getEnvDuration("ORCHEX_VISIBILITY", config.DefaultVisibility)),
		config.WithStaleBound(getEnvDuration("ORCHEX_STALE_BOUND", config.DefaultStaleBound)),
		config.WithSweepInterval(getEnvDuration("ORCHEX_SWEEP_INTERVAL", config.DefaultSweepInterval)),
		config.WithWorkerCount(getEnvInt("ORCHEX_WORKER_COUNT", config.DefaultWorkerCount)),
		config.WithBatchSize(getEnvInt("ORCHEX_BATCH_SIZE", config.DefaultBatchSize)),
	}

	if pgURL := getEnv("ORCHEX_POSTGRES_URL", ""); pgURL != "" {
		opts = append(opts, config.WithPostgres(config.PostgresConfig{ConnectionUrl: pgURL}))
	}
	if redisAddr := getEnv("ORCHEX_REDIS_ADDR", ""); redisAddr != "" {
		opts = append(opts, config.WithRedisLock(config.RedisConfig{
			Address:  redisAddr,
			Password: getEnv("ORCHEX_REDIS_PASSWORD", ""),
			DB:       getEnvInt("ORCHEX_REDIS_DB", 0),
		}))
	}
	if mqURL := getEnv("ORCHEX_RABBITMQ_URL", ""); mqURL != "" {
		opts = append(opts, config.WithRabbitMQ(config.RabbitMQConfig{
			URL:        mqURL,
			Exchange:   getEnv("ORCHEX_RABBITMQ_EXCHANGE", "orchex"),
			Queue:      getEnv("ORCHEX_RABBITMQ_QUEUE", "orchex.notifications"),
			RoutingKey: getEnv("ORCHEX_RABBITMQ_ROUTING_KEY", "orchex.notifications"),
		}))
	}

	return config.New(instance, opts...)
}

func hostnameOr(def string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, err := fmt.Sscanf(v, "%d", &n)
		if err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
