// Package scheduler runs the trigger evaluation tick loop. Every instance
// runs the loop; the leader lock decides which one evaluates triggers in a
// given interval, so horizontally scaled deployments still have exactly one
// active scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"orchex/internal/claim"
	"orchex/internal/lock"
	"orchex/internal/models"
	"orchex/internal/notify"
	"orchex/internal/state"
	"orchex/internal/store"
)

// LeaderLockKey is the shared key all instances contend on each tick.
const LeaderLockKey = "orchex:scheduler:leader"

// defaultFetchLimit caps how many due triggers one tick evaluates.
const defaultFetchLimit = 100

// JobCreator is the narrow job-creation collaborator; the bridge satisfies
// it.
type JobCreator interface {
	CreateJob(ctx context.Context, req store.NewJob) (*models.Job, error)
}

type Scheduler struct {
	triggers    store.TriggerStore
	claimer     *claim.Service
	jobs        JobCreator
	leaderLock  lock.LeaderLock
	notifier    notify.Notifier
	log         *slog.Logger
	instance    string
	tick        time.Duration
	lockTTL     time.Duration
	workerCount int
}

func New(
	triggers store.TriggerStore,
	claimer *claim.Service,
	jobs JobCreator,
	leaderLock lock.LeaderLock,
	notifier notify.Notifier,
	log *slog.Logger,
	instance string,
	tick, lockTTL time.Duration,
	workerCount int,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if workerCount < 1 {
		workerCount = 1
	}
	return &Scheduler{
		triggers:    triggers,
		claimer:     claimer,
		jobs:        jobs,
		leaderLock:  leaderLock,
		notifier:    notifier,
		log:         log,
		instance:    instance,
		tick:        tick,
		lockTTL:     lockTTL,
		workerCount: workerCount,
	}
}

// Start runs the tick loop until ctx is cancelled. Cancellation interrupts
// the inter-tick sleep; an in-flight tick finishes, since every trigger's
// evaluation commits independently.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "scheduler started",
		slog.String("instance", s.instance),
		slog.Duration("tick", s.tick))

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "scheduler stopped", slog.String("instance", s.instance))
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick attempts leader election and, on winning, evaluates all due
// triggers. Losing the election is the normal outcome on all but one
// instance.
func (s *Scheduler) Tick(ctx context.Context) {
	handle, acquired, err := s.leaderLock.TryAcquire(ctx, LeaderLockKey, s.lockTTL)
	if err != nil {
		s.log.ErrorContext(ctx, "leader election failed",
			slog.String("instance", s.instance),
			slog.String("error", err.Error()))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.WarnContext(ctx, "leader lock release failed",
				slog.String("error", err.Error()))
		}
	}()

	s.evaluate(ctx, time.Now().UTC())
}

func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	due, err := s.triggers.FetchDue(ctx, now, defaultFetchLimit)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to fetch due triggers", slog.String("error", err.Error()))
		return
	}

	sem := semaphore.NewWeighted(int64(s.workerCount))
	var wg sync.WaitGroup

	for _, trigger := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)

		go func(t models.Trigger) {
			defer sem.Release(1)
			defer wg.Done()
			s.evalTrigger(ctx, &t, now)
		}(trigger)
	}

	wg.Wait()
}

// evalTrigger evaluates one trigger. Every failure is contained here: one
// trigger's failure never blocks the others in the same tick and never
// crashes the loop.
func (s *Scheduler) evalTrigger(ctx context.Context, t *models.Trigger, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "trigger evaluation panicked",
				slog.Int64("trigger_id", t.ID),
				slog.Any("panic", r))
		}
	}()

	var err error
	switch t.Type {
	case state.TriggerTypeTime:
		err = s.evalTimeTrigger(ctx, t, now)
	case state.TriggerTypeQueue:
		err = s.evalQueueTrigger(ctx, t, now)
	default:
		err = fmt.Errorf("unknown trigger type %q", t.Type)
	}

	if err != nil {
		s.log.WarnContext(ctx, "trigger evaluation failed",
			slog.Int64("trigger_id", t.ID),
			slog.String("trigger", t.Name),
			slog.String("error", err.Error()))
		s.notifyFireFailed(ctx, t, err)
	}
}

func (s *Scheduler) evalTimeTrigger(ctx context.Context, t *models.Trigger, now time.Time) error {
	if t.CronExpression == nil {
		return fmt.Errorf("time trigger %d has no cron expression", t.ID)
	}
	timezone := ""
	if t.Timezone != nil {
		timezone = *t.Timezone
	}

	// A fresh trigger gets its first fire time computed from now and waits
	// for a future tick.
	if t.NextFireAt == nil {
		next, err := NextFire(*t.CronExpression, timezone, now)
		if err != nil {
			return err
		}
		return s.triggers.SetNextFire(ctx, t.ID, next)
	}

	if now.Before(*t.NextFireAt) {
		return nil
	}

	_, err := s.jobs.CreateJob(ctx, store.NewJob{
		Source:     state.JobSourceTrigger,
		TriggerID:  &t.ID,
		ProcessRef: t.ProcessRef,
		WorkerRef:  t.WorkerRef,
	})
	if err != nil {
		// next_fire_at stays put so the same fire is retried next tick.
		return fmt.Errorf("create job: %w", err)
	}

	// Recompute from the previous fire instant, not from now: two
	// consecutive late ticks must not compound drift.
	next, err := NextFire(*t.CronExpression, timezone, *t.NextFireAt)
	if err != nil {
		return err
	}
	return s.triggers.MarkFired(ctx, t.ID, now, next)
}

func (s *Scheduler) evalQueueTrigger(ctx context.Context, t *models.Trigger, now time.Time) error {
	if t.QueueID == nil || t.BatchSize == nil || t.PollingInterval == nil {
		return fmt.Errorf("queue trigger %d is missing queue configuration", t.ID)
	}
	if t.NextFireAt != nil && now.Before(*t.NextFireAt) {
		return nil
	}

	claimant := fmt.Sprintf("trigger-%d@%s", t.ID, s.instance)
	items, err := s.claimer.ClaimNext(ctx, *t.QueueID, claimant, *t.BatchSize)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}

	nextPoll := now.Add(*t.PollingInterval)

	// An empty poll is not an error; just schedule the next one.
	if len(items) == 0 {
		return s.triggers.SetNextFire(ctx, t.ID, nextPoll)
	}

	itemIDs := make([]int64, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}

	_, err = s.jobs.CreateJob(ctx, store.NewJob{
		Source:       state.JobSourceTrigger,
		TriggerID:    &t.ID,
		ProcessRef:   t.ProcessRef,
		WorkerRef:    t.WorkerRef,
		QueueItemIDs: itemIDs,
	})
	if err != nil {
		// The claimed leases expire on their own and the items return to
		// the pool; keep polling on schedule.
		if rescheduleErr := s.triggers.SetNextFire(ctx, t.ID, nextPoll); rescheduleErr != nil {
			s.log.WarnContext(ctx, "failed to reschedule queue trigger",
				slog.Int64("trigger_id", t.ID),
				slog.String("error", rescheduleErr.Error()))
		}
		return fmt.Errorf("create job for %d claimed items: %w", len(items), err)
	}

	return s.triggers.MarkFired(ctx, t.ID, now, nextPoll)
}

func (s *Scheduler) notifyFireFailed(ctx context.Context, t *models.Trigger, fireErr error) {
	payload := map[string]any{
		"trigger_id":   t.ID,
		"trigger_name": t.Name,
		"process_ref":  t.ProcessRef,
		"error":        fireErr.Error(),
	}
	if err := s.notifier.Send(ctx, notify.KindTriggerFireFailed, payload); err != nil {
		s.log.WarnContext(ctx, "failed to send trigger failure notification",
			slog.Int64("trigger_id", t.ID),
			slog.String("error", err.Error()))
	}
}
