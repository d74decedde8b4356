package di

import (
	"database/sql"
	"io"
	"log/slog"

	"orchex/internal/audit"
	"orchex/internal/bridge"
	"orchex/internal/claim"
	"orchex/internal/config"
	"orchex/internal/lock"
	"orchex/internal/notify"
	"orchex/internal/scheduler"
	"orchex/internal/store"
)

// Dependencies holds every wired component of one orchestrator node.
type Dependencies struct {
	Queues   store.QueueStore
	Items    store.QueueItemStore
	Triggers store.TriggerStore
	Jobs     store.JobStore

	LeaderLock lock.LeaderLock
	Notifier   notify.Notifier
	Auditor    audit.Logger

	Claimer   *claim.Service
	Sweeper   *claim.Sweeper
	Bridge    *bridge.Bridge
	Scheduler *scheduler.Scheduler

	SQLDB *sql.DB // nil when the memory driver is active
}

// GetDependencies builds the full object graph from the configuration:
// storage connections, stores, leader lock, notifier, and the claim,
// bridge, and scheduler services on top of them.
func GetDependencies(cfg *config.Config, log *slog.Logger) (*Dependencies, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	if cfg.StorageDriver == config.Postgres {
		db, err := openPG(cfg.PostgresConfig.ConnectionUrl)
		if err != nil {
			return nil, err
		}
		sqlDB = db
	}

	st, err := createStores(cfg.StorageDriver, sqlDB)
	if err != nil {
		return nil, err
	}

	leaderLock := createLeaderLock(cfg)

	notifier, err := createNotifier(cfg, notify.NewSlogNotifier(log))
	if err != nil {
		return nil, err
	}

	claimer := claim.NewService(st.Items, st.Queues, notifier, log, cfg.Visibility, cfg.StaleBound, cfg.BatchSize)
	sweeper := claim.NewSweeper(st.Items, log, cfg.StaleBound)
	jobBridge := bridge.New(st.Jobs, st.Items, notifier, log)

	sched := scheduler.New(
		st.Triggers,
		claimer,
		jobBridge,
		leaderLock,
		notifier,
		log,
		cfg.Instance,
		cfg.TickInterval,
		cfg.LockTTL,
		cfg.WorkerCount,
	)

	return &Dependencies{
		Queues:     st.Queues,
		Items:      st.Items,
		Triggers:   st.Triggers,
		Jobs:       st.Jobs,
		LeaderLock: leaderLock,
		Notifier:   notifier,
		Auditor:    audit.NewSlogLogger(log),
		Claimer:    claimer,
		Sweeper:    sweeper,
		Bridge:     jobBridge,
		Scheduler:  sched,
		SQLDB:      sqlDB,
	}, nil
}

// Close releases the connections the dependency graph owns.
func (d *Dependencies) Close() error {
	var firstErr error
	if closer, ok := d.Notifier.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if d.SQLDB != nil {
		if err := d.SQLDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
