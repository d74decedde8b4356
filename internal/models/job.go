package models

import (
	"orchex/internal/state"
	"time"
)

// Job is an execution record. QueueItemIDs preserves the order in which the
// linked items were claimed; it is empty for jobs without queue input.
type Job struct {
	ID           int64
	Source       state.JobSource
	TriggerID    *int64
	ProcessRef   string
	WorkerRef    *string
	QueueItemIDs []int64
	Status       state.JobStatus
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
