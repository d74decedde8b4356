package orchestrator

import (
	"context"
	"log/slog"

	_ "github.com/lib/pq"

	"orchex/client"
	"orchex/di"
	"orchex/internal/config"
	"orchex/internal/db"
	"orchex/web"
)

// New boots a complete orchestrator node from the configuration.
//
// It connects to the configured storage backend, runs the schema bootstrap
// under the migration lock (Postgres only), wires the claim service, lease
// sweeper, job bridge, and scheduler, launches the background loops, and
// serves the JSON API when enabled.
//
// The returned Orchestrator is ready for use; call its Stop method to drain
// the background loops on shutdown.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*client.Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}

	deps, err := di.GetDependencies(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.StorageDriver == config.Postgres {
		if err := db.Init(ctx, deps.SQLDB, deps.LeaderLock); err != nil {
			deps.Close()
			return nil, err
		}
	}

	orch := client.NewOrchestrator(
		deps.Queues,
		deps.Items,
		deps.Triggers,
		deps.Jobs,
		deps.Claimer,
		deps.Sweeper,
		deps.Bridge,
		deps.Scheduler,
		deps.Auditor,
		log,
		cfg.SweepInterval,
	)

	orch.Start(ctx)

	if cfg.HTTPEnabled {
		runWebServer(orch, log, cfg.HTTPPort)
	}

	return orch, nil
}

// runWebServer starts the JSON API in its own goroutine so boot is not
// blocked on the listener.
func runWebServer(orch *client.Orchestrator, log *slog.Logger, port uint) {
	go func() {
		router := web.NewRouteHandler(orch, nil, log, port)
		if err := router.Serve(); err != nil {
			log.Error("api server stopped", "error", err)
		}
	}()
}
