package claim

import (
	"context"
	"log/slog"
	"time"

	"orchex/internal/store"
)

// SweepReason is the fixed error reason recorded on items abandoned by the
// sweeper.
const SweepReason = "lease expired"

// Sweeper abandons items whose lease is long past the visibility timeout.
// It runs on its own cadence and is also invoked before claim attempts; it
// only touches leases older than the stale bound, so it never conflicts
// with an active lease.
type Sweeper struct {
	items      store.QueueItemStore
	log        *slog.Logger
	staleBound time.Duration
}

func NewSweeper(items store.QueueItemStore, log *slog.Logger, staleBound time.Duration) *Sweeper {
	if staleBound <= 0 {
		staleBound = DefaultStaleBound
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{items: items, log: log, staleBound: staleBound}
}

// Sweep abandons stale leases in one queue; queueID 0 sweeps all queues.
func (s *Sweeper) Sweep(ctx context.Context, queueID int64) (int64, error) {
	return s.items.SweepExpired(ctx, queueID, s.staleBound, SweepReason)
}

// Run sweeps all queues on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "lease sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			swept, err := s.Sweep(ctx, 0)
			if err != nil {
				s.log.ErrorContext(ctx, "lease sweep failed", slog.String("error", err.Error()))
				continue
			}
			if swept > 0 {
				s.log.InfoContext(ctx, "abandoned stale leases", slog.Int64("count", swept))
			}
		}
	}
}
