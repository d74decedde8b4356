package di

import (
	"database/sql"
	"fmt"

	"orchex/internal/config"
	"orchex/internal/lock"
	"orchex/internal/notify"
	"orchex/internal/store"
	"orchex/internal/store/memory"
	"orchex/internal/store/postgres"
)

// stores bundles the four storage interfaces so every backend hands them
// out together.
type stores struct {
	Queues   store.QueueStore
	Items    store.QueueItemStore
	Triggers store.TriggerStore
	Jobs     store.JobStore
}

func createStores(driver config.StorageDriver, db *sql.DB) (stores, error) {
	switch driver {
	case config.Postgres:
		return stores{
			Queues:   postgres.NewPostgresQueueStore(db),
			Items:    postgres.NewPostgresQueueItemStore(db),
			Triggers: postgres.NewPostgresTriggerStore(db),
			Jobs:     postgres.NewPostgresJobStore(db),
		}, nil
	case config.Memory:
		mem := memory.New()
		return stores{
			Queues:   mem.QueueStore(),
			Items:    mem.QueueItemStore(),
			Triggers: mem.TriggerStore(),
			Jobs:     mem.JobStore(),
		}, nil
	default:
		return stores{}, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func createLeaderLock(cfg *config.Config) lock.LeaderLock {
	if cfg.RedisConfig != nil {
		return lock.NewRedisLeaderLock(openRedis(cfg.RedisConfig))
	}
	return lock.NewMemoryLeaderLock()
}

func createNotifier(cfg *config.Config, fallback notify.Notifier) (notify.Notifier, error) {
	if cfg.RabbitMQConfig == nil {
		return fallback, nil
	}
	mq := cfg.RabbitMQConfig
	notifier, err := notify.NewRabbitMQNotifier(mq.URL, mq.Exchange, mq.Queue, mq.RoutingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	return notifier, nil
}
