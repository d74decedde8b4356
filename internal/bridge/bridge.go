// Package bridge connects job records to queue items in both directions:
// it creates jobs (for the scheduler and the manual start path) and
// propagates a job's terminal outcome back onto its linked items.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"orchex/internal/models"
	"orchex/internal/notify"
	"orchex/internal/state"
	"orchex/internal/store"
)

type Bridge struct {
	jobs     store.JobStore
	items    store.QueueItemStore
	notifier notify.Notifier
	log      *slog.Logger
}

func New(jobs store.JobStore, items store.QueueItemStore, notifier notify.Notifier, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Bridge{jobs: jobs, items: items, notifier: notifier, log: log}
}

// CreateJob persists a job and links any claimed items to it.
func (b *Bridge) CreateJob(ctx context.Context, req store.NewJob) (*models.Job, error) {
	job, err := b.jobs.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job for process %q: %w", req.ProcessRef, err)
	}

	if len(req.QueueItemIDs) > 0 {
		if err := b.items.SetJobID(ctx, req.QueueItemIDs, job.ID); err != nil {
			return nil, fmt.Errorf("link items to job %d: %w", job.ID, err)
		}
	}
	return job, nil
}

// CompleteJob marks the job succeeded and closes its non-terminal linked
// items as done.
func (b *Bridge) CompleteJob(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := b.jobs.UpdateStatus(ctx, jobID, state.JobStatusSucceeded, "")
	if err != nil {
		return nil, err
	}

	closed, err := b.items.CloseForJob(ctx, jobID, true, "")
	if err != nil {
		return nil, fmt.Errorf("close items for job %d: %w", jobID, err)
	}
	if closed > 0 {
		b.log.InfoContext(ctx, "completed linked queue items",
			slog.Int64("job_id", jobID),
			slog.Int64("count", closed))
	}
	return job, nil
}

// FailJob marks the job failed and fails its non-terminal linked items,
// copying the job's error message onto items without a reason of their own.
// The failure notification is sequenced after the writes and is best
// effort.
func (b *Bridge) FailJob(ctx context.Context, jobID int64, errMessage string) (*models.Job, error) {
	job, err := b.jobs.UpdateStatus(ctx, jobID, state.JobStatusFailed, errMessage)
	if err != nil {
		return nil, err
	}

	closed, err := b.items.CloseForJob(ctx, jobID, false, errMessage)
	if err != nil {
		return nil, fmt.Errorf("close items for job %d: %w", jobID, err)
	}

	payload := map[string]any{
		"job_id":      jobID,
		"process_ref": job.ProcessRef,
		"error":       errMessage,
		"items":       closed,
	}
	if err := b.notifier.Send(ctx, notify.KindJobFailed, payload); err != nil {
		b.log.WarnContext(ctx, "failed to send job failure notification",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()))
	}
	return job, nil
}
