package store

import (
	"context"

	"orchex/internal/models"
	"orchex/internal/state"
)

// NewJob is the creation request coming from the scheduler or the manual
// start path.
type NewJob struct {
	Source       state.JobSource
	TriggerID    *int64
	ProcessRef   string
	WorkerRef    *string
	QueueItemIDs []int64
}

type JobStore interface {
	Create(ctx context.Context, job NewJob) (*models.Job, error)
	FindByID(ctx context.Context, id int64) (*models.Job, error)
	List(ctx context.Context, status state.JobStatus, page, pageSize int) (*models.PaginationResult[models.Job], error)

	// UpdateStatus moves the job to status, recording errMessage for failed
	// jobs, and returns the updated record.
	UpdateStatus(ctx context.Context, id int64, status state.JobStatus, errMessage string) (*models.Job, error)
}
