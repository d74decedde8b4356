package store

import (
	"context"
	"encoding/json"
	"time"

	"orchex/internal/models"
	"orchex/internal/state"
)

// NewItem is the producer-facing creation request for a queue item.
type NewItem struct {
	QueueID   int64
	Reference *string
	Priority  int
	Payload   json.RawMessage
}

// Resolution is a claimant's report on an in-progress item. Exactly one of
// the three target statuses (done, failed, abandoned) is allowed; the store
// applies the retry contract for failed items using MaxRetries.
type Resolution struct {
	ItemID      int64
	Claimant    string
	Status      state.ItemStatus
	Output      json.RawMessage
	ErrorType   state.ErrorType
	ErrorReason string
	MaxRetries  int
	Visibility  time.Duration
}

// QueueItemStore holds the typed record and the atomic claim/update
// primitives. Selection and locking always happen as one indivisible
// operation; the higher-level claim protocol lives in the claim package.
type QueueItemStore interface {
	Insert(ctx context.Context, item NewItem, enforceUniqueReference bool) (*models.QueueItem, error)
	FindByID(ctx context.Context, id int64) (*models.QueueItem, error)
	List(ctx context.Context, queueID int64, status state.ItemStatus, page, pageSize int) (*models.PaginationResult[models.QueueItem], error)

	// ClaimNext atomically selects up to batch eligible items (new, or
	// in_progress with a lease older than visibility) ordered by priority
	// descending then creation time ascending, and marks them in_progress
	// owned by claimant. An empty result is not an error.
	ClaimNext(ctx context.Context, queueID int64, claimant string, batch int, visibility time.Duration) ([]models.QueueItem, error)

	// Resolve applies a claimant's terminal report under the lease guard.
	// Returns apperrors.ErrLeaseConflict when the claimant does not hold a
	// live lease on the item.
	Resolve(ctx context.Context, res Resolution) (*models.QueueItem, error)

	// Requeue resets a terminal failed item to new with zero retries.
	Requeue(ctx context.Context, id int64) (*models.QueueItem, error)

	// SweepExpired abandons in_progress items whose lease is older than
	// olderThan, recording reason. Returns the number of items swept.
	SweepExpired(ctx context.Context, queueID int64, olderThan time.Duration, reason string) (int64, error)

	// SetJobID links freshly claimed items to the job processing them.
	SetJobID(ctx context.Context, itemIDs []int64, jobID int64) error

	// CloseForJob bulk-applies a job's terminal outcome to its linked
	// non-terminal items. For failed jobs errReason is used only where the
	// item has no error reason of its own. Returns the number of items
	// updated.
	CloseForJob(ctx context.Context, jobID int64, succeeded bool, errReason string) (int64, error)
}
