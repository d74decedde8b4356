package models

import (
	"encoding/json"
	"orchex/internal/state"
	"time"
)

// QueueItem is one unit of work inside a queue.
//
// Invariants maintained by the stores:
//   - LockedBy and LockedAt are both nil or both set, and set only while
//     the status is in_progress.
//   - Done items never carry ErrorType/ErrorReason.
//   - Failed items always carry ErrorType and ErrorReason.
//   - Abandoned items always carry ErrorReason and nil lease fields.
type QueueItem struct {
	ID          int64
	QueueID     int64
	Reference   *string
	Status      state.ItemStatus
	Priority    int
	Payload     json.RawMessage
	Output      json.RawMessage
	ErrorType   *state.ErrorType
	ErrorReason *string
	Retries     int
	LockedBy    *string
	LockedAt    *time.Time
	JobID       *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
