package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"orchex/internal/apperrors"
	"orchex/internal/audit"
	"orchex/internal/bridge"
	"orchex/internal/claim"
	"orchex/internal/models"
	"orchex/internal/scheduler"
	"orchex/internal/state"
	"orchex/internal/store"
)

// Orchestrator is the embedding-facing facade over the whole system:
// queue and trigger administration, the claim protocol, the job bridge,
// and the background scheduler and sweeper loops.
type Orchestrator struct {
	queues   store.QueueStore
	items    store.QueueItemStore
	triggers store.TriggerStore
	jobs     store.JobStore

	claimer   *claim.Service
	sweeper   *claim.Sweeper
	bridge    *bridge.Bridge
	scheduler *scheduler.Scheduler
	auditor   audit.Logger
	log       *slog.Logger

	sweepInterval time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewOrchestrator(
	queues store.QueueStore,
	items store.QueueItemStore,
	triggers store.TriggerStore,
	jobs store.JobStore,
	claimer *claim.Service,
	sweeper *claim.Sweeper,
	jobBridge *bridge.Bridge,
	sched *scheduler.Scheduler,
	auditor audit.Logger,
	log *slog.Logger,
	sweepInterval time.Duration,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if auditor == nil {
		auditor = audit.Noop{}
	}
	return &Orchestrator{
		queues:        queues,
		items:         items,
		triggers:      triggers,
		jobs:          jobs,
		claimer:       claimer,
		sweeper:       sweeper,
		bridge:        jobBridge,
		scheduler:     sched,
		auditor:       auditor,
		log:           log,
		sweepInterval: sweepInterval,
	}
}

// Start launches the scheduler tick loop and the lease sweeper. It returns
// immediately; both loops run until Stop is called or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return o.scheduler.Start(gctx)
	})
	g.Go(func() error {
		return o.sweeper.Run(gctx, o.sweepInterval)
	})

	go func() {
		defer close(o.done)
		if err := g.Wait(); err != nil && !isCancellation(err) {
			o.log.Error("background loop exited", "error", err)
		}
	}()
}

// Stop cancels the background loops and waits for them to drain.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

func (o *Orchestrator) CreateQueue(ctx context.Context, name string, maxRetries int, enforceUniqueReference bool) (*models.Queue, error) {
	if name == "" {
		return nil, apperrors.Validation("queue name is required")
	}
	if maxRetries < 0 {
		return nil, apperrors.Validation("max retries must not be negative")
	}

	q, err := o.queues.Create(ctx, name, maxRetries, enforceUniqueReference)
	if err != nil {
		return nil, err
	}
	o.auditor.Log(ctx, audit.Event{Action: "queue.create", Entity: "queue", After: q})
	return q, nil
}

func (o *Orchestrator) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	return o.queues.FindByID(ctx, id)
}

func (o *Orchestrator) GetQueueByName(ctx context.Context, name string) (*models.Queue, error) {
	return o.queues.FindByName(ctx, name)
}

func (o *Orchestrator) ListQueues(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Queue], error) {
	return o.queues.List(ctx, page, pageSize)
}

func (o *Orchestrator) UpdateQueue(ctx context.Context, id int64, name string, maxRetries int) (*models.Queue, error) {
	if name == "" {
		return nil, apperrors.Validation("queue name is required")
	}
	if maxRetries < 0 {
		return nil, apperrors.Validation("max retries must not be negative")
	}

	before, err := o.queues.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	q, err := o.queues.Update(ctx, id, name, maxRetries)
	if err != nil {
		return nil, err
	}
	o.auditor.Log(ctx, audit.Event{Action: "queue.update", Entity: "queue", Before: before, After: q})
	return q, nil
}

func (o *Orchestrator) DeleteQueue(ctx context.Context, id int64) error {
	before, err := o.queues.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := o.queues.Delete(ctx, id); err != nil {
		return err
	}
	o.auditor.Log(ctx, audit.Event{Action: "queue.delete", Entity: "queue", Before: before})
	return nil
}

// ---------------------------------------------------------------------------
// Queue items and the claim protocol
// ---------------------------------------------------------------------------

// EnqueueItem inserts a new work item. When the queue enforces unique
// references the insert is rejected with apperrors.ErrReferenceConflict
// if the reference is already present.
func (o *Orchestrator) EnqueueItem(ctx context.Context, item store.NewItem) (*models.QueueItem, error) {
	queue, err := o.queues.FindByID(ctx, item.QueueID)
	if err != nil {
		return nil, err
	}
	if item.Payload == nil {
		item.Payload = json.RawMessage("{}")
	}
	return o.items.Insert(ctx, item, queue.EnforceUniqueReference)
}

func (o *Orchestrator) GetItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	return o.items.FindByID(ctx, id)
}

func (o *Orchestrator) ListItems(ctx context.Context, queueID int64, status state.ItemStatus, page, pageSize int) (*models.PaginationResult[models.QueueItem], error) {
	return o.items.List(ctx, queueID, status, page, pageSize)
}

// ClaimNext hands out up to batch items to claimant. The returned items are
// in progress and leased for the configured visibility timeout.
func (o *Orchestrator) ClaimNext(ctx context.Context, queueID int64, claimant string, batch int) ([]models.QueueItem, error) {
	return o.claimer.ClaimNext(ctx, queueID, claimant, batch)
}

// UpdateItemStatus applies a claimant's terminal report on a claimed item.
func (o *Orchestrator) UpdateItemStatus(ctx context.Context, req claim.UpdateRequest) (*models.QueueItem, error) {
	return o.claimer.UpdateStatus(ctx, req)
}

// RequeueItem puts a failed item back in line with a fresh retry budget.
func (o *Orchestrator) RequeueItem(ctx context.Context, itemID int64) (*models.QueueItem, error) {
	item, err := o.claimer.Requeue(ctx, itemID)
	if err != nil {
		return nil, err
	}
	o.auditor.Log(ctx, audit.Event{Action: "queue_item.requeue", Entity: "queue_item", After: item})
	return item, nil
}

// Sweep abandons expired leases immediately instead of waiting for the
// background sweeper. queueID 0 sweeps every queue.
func (o *Orchestrator) Sweep(ctx context.Context, queueID int64) (int64, error) {
	return o.sweeper.Sweep(ctx, queueID)
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

func (o *Orchestrator) CreateTrigger(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	if err := o.validateTrigger(ctx, t); err != nil {
		return nil, err
	}
	created, err := o.triggers.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	o.auditor.Log(ctx, audit.Event{Action: "trigger.create", Entity: "trigger", After: created})
	return created, nil
}

func (o *Orchestrator) GetTrigger(ctx context.Context, id int64) (*models.Trigger, error) {
	return o.triggers.FindByID(ctx, id)
}

func (o *Orchestrator) ListTriggers(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Trigger], error) {
	return o.triggers.List(ctx, page, pageSize)
}

func (o *Orchestrator) UpdateTrigger(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	if err := o.validateTrigger(ctx, t); err != nil {
		return nil, err
	}
	before, err := o.triggers.FindByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	updated, err := o.triggers.Update(ctx, t)
	if err != nil {
		return nil, err
	}
	o.auditor.Log(ctx, audit.Event{Action: "trigger.update", Entity: "trigger", Before: before, After: updated})
	return updated, nil
}

func (o *Orchestrator) DeleteTrigger(ctx context.Context, id int64) error {
	before, err := o.triggers.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := o.triggers.Delete(ctx, id); err != nil {
		return err
	}
	o.auditor.Log(ctx, audit.Event{Action: "trigger.delete", Entity: "trigger", Before: before})
	return nil
}

func (o *Orchestrator) EnableTrigger(ctx context.Context, id int64) error {
	return o.setTriggerEnabled(ctx, id, true)
}

func (o *Orchestrator) DisableTrigger(ctx context.Context, id int64) error {
	return o.setTriggerEnabled(ctx, id, false)
}

func (o *Orchestrator) setTriggerEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := o.triggers.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	action := "trigger.disable"
	if enabled {
		action = "trigger.enable"
	}
	o.auditor.Log(ctx, audit.Event{Action: action, Entity: "trigger", Metadata: map[string]any{"trigger_id": id}})
	return nil
}

func (o *Orchestrator) validateTrigger(ctx context.Context, t *models.Trigger) error {
	if t.Name == "" {
		return apperrors.Validation("trigger name is required")
	}
	if t.ProcessRef == "" {
		return apperrors.Validation("trigger process reference is required")
	}

	switch t.Type {
	case state.TriggerTypeTime:
		if t.CronExpression == nil || *t.CronExpression == "" {
			return apperrors.Validation("time trigger requires a cron expression")
		}
		tz := "UTC"
		if t.Timezone != nil && *t.Timezone != "" {
			tz = *t.Timezone
		}
		if _, err := scheduler.NextFire(*t.CronExpression, tz, time.Now()); err != nil {
			return apperrors.Validation("invalid schedule: %v", err)
		}
	case state.TriggerTypeQueue:
		if t.QueueID == nil {
			return apperrors.Validation("queue trigger requires a queue")
		}
		if _, err := o.queues.FindByID(ctx, *t.QueueID); err != nil {
			return err
		}
		if t.BatchSize == nil || *t.BatchSize < 1 {
			return apperrors.Validation("queue trigger batch size must be positive")
		}
		if t.PollingInterval == nil || *t.PollingInterval < time.Second {
			return apperrors.Validation("queue trigger polling interval must be at least one second")
		}
	default:
		return apperrors.Validation("unknown trigger type: %s", t.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// StartJob creates a manual job, optionally linked to pre-claimed items.
func (o *Orchestrator) StartJob(ctx context.Context, processRef string, workerRef *string, itemIDs []int64) (*models.Job, error) {
	if processRef == "" {
		return nil, apperrors.Validation("job process reference is required")
	}
	return o.bridge.CreateJob(ctx, store.NewJob{
		Source:       state.JobSourceManual,
		ProcessRef:   processRef,
		WorkerRef:    workerRef,
		QueueItemIDs: itemIDs,
	})
}

func (o *Orchestrator) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return o.jobs.FindByID(ctx, id)
}

func (o *Orchestrator) ListJobs(ctx context.Context, status state.JobStatus, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	return o.jobs.List(ctx, status, page, pageSize)
}

// CompleteJob marks a job succeeded and closes its still-open items as done.
func (o *Orchestrator) CompleteJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return o.bridge.CompleteJob(ctx, jobID)
}

// FailJob marks a job failed and fails its still-open items, preserving any
// error detail the items already carry.
func (o *Orchestrator) FailJob(ctx context.Context, jobID int64, errMessage string) (*models.Job, error) {
	return o.bridge.FailJob(ctx, jobID, errMessage)
}
