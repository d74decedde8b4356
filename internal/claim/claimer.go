// Package claim implements the work-queue claiming protocol shared by
// external workers and the scheduler's queue triggers. Both paths funnel
// through the same atomic store primitive, so no item can be handed to two
// claimants.
package claim

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/notify"
	"orchex/internal/state"
	"orchex/internal/store"
)

const (
	// DefaultVisibility is the lease window during which a claimed item is
	// considered actively owned.
	DefaultVisibility = 300 * time.Second

	// DefaultStaleBound is how long a lease may be overdue before the
	// sweeper abandons the item instead of returning it to the pool.
	DefaultStaleBound = 24 * time.Hour
)

type Service struct {
	items        store.QueueItemStore
	queues       store.QueueStore
	notifier     notify.Notifier
	log          *slog.Logger
	visibility   time.Duration
	staleBound   time.Duration
	defaultBatch int
}

func NewService(items store.QueueItemStore, queues store.QueueStore, notifier notify.Notifier, log *slog.Logger, visibility, staleBound time.Duration, defaultBatch int) *Service {
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	if staleBound <= 0 {
		staleBound = DefaultStaleBound
	}
	if defaultBatch < 1 {
		defaultBatch = 1
	}
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Service{
		items:        items,
		queues:       queues,
		notifier:     notifier,
		log:          log,
		visibility:   visibility,
		staleBound:   staleBound,
		defaultBatch: defaultBatch,
	}
}

func (s *Service) Visibility() time.Duration {
	return s.visibility
}

// ClaimNext pulls up to batch items from the queue for claimant, falling
// back to the configured default batch when none is given. Stale leases
// beyond the abandonment bound are swept first so a claimant never
// receives an item that should already be dead. An empty result is a
// normal outcome, not an error.
func (s *Service) ClaimNext(ctx context.Context, queueID int64, claimant string, batch int) ([]models.QueueItem, error) {
	if claimant == "" {
		return nil, apperrors.Validation("claimant identity is required")
	}
	if batch < 1 {
		batch = s.defaultBatch
	}

	if _, err := s.queues.FindByID(ctx, queueID); err != nil {
		return nil, err
	}

	if swept, err := s.items.SweepExpired(ctx, queueID, s.staleBound, SweepReason); err != nil {
		s.log.WarnContext(ctx, "stale lease sweep failed",
			slog.Int64("queue_id", queueID),
			slog.String("error", err.Error()))
	} else if swept > 0 {
		s.log.InfoContext(ctx, "abandoned stale leases",
			slog.Int64("queue_id", queueID),
			slog.Int64("count", swept))
	}

	return s.items.ClaimNext(ctx, queueID, claimant, batch, s.visibility)
}

// UpdateRequest is a claimant's report on an item it holds.
type UpdateRequest struct {
	ItemID      int64
	Claimant    string
	Status      state.ItemStatus
	Output      json.RawMessage
	ErrorType   state.ErrorType
	ErrorReason string
}

// UpdateStatus applies the status-update contract for the claimant. The
// lease guard lives in the store; the field-combination rules are checked
// here so malformed reports are rejected before any write.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateRequest) (*models.QueueItem, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	item, err := s.items.FindByID(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	queue, err := s.queues.FindByID(ctx, item.QueueID)
	if err != nil {
		return nil, err
	}

	updated, err := s.items.Resolve(ctx, store.Resolution{
		ItemID:      req.ItemID,
		Claimant:    req.Claimant,
		Status:      req.Status,
		Output:      req.Output,
		ErrorType:   req.ErrorType,
		ErrorReason: req.ErrorReason,
		MaxRetries:  queue.MaxRetries,
		Visibility:  s.visibility,
	})
	if err != nil {
		return nil, err
	}

	// Sequenced after commit, best effort: a notification failure must not
	// roll back the state transition.
	if updated.Status == state.ItemStatusFailed && updated.Retries >= queue.MaxRetries {
		s.notifyExhausted(ctx, queue, updated)
	}

	return updated, nil
}

// Requeue is the administrative bypass of the retry counter: terminal
// failed items only.
func (s *Service) Requeue(ctx context.Context, itemID int64) (*models.QueueItem, error) {
	return s.items.Requeue(ctx, itemID)
}

func (s *Service) notifyExhausted(ctx context.Context, queue *models.Queue, item *models.QueueItem) {
	payload := map[string]any{
		"queue_id":   queue.ID,
		"queue_name": queue.Name,
		"item_id":    item.ID,
		"retries":    item.Retries,
	}
	if item.ErrorReason != nil {
		payload["error_reason"] = *item.ErrorReason
	}
	if err := s.notifier.Send(ctx, notify.KindItemFailedAfterRetries, payload); err != nil {
		s.log.WarnContext(ctx, "failed to send exhaustion notification",
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()))
	}
}

func validateUpdate(req UpdateRequest) error {
	if req.Claimant == "" {
		return apperrors.Validation("claimant identity is required")
	}

	switch req.Status {
	case state.ItemStatusDone:
		if req.ErrorType != "" || req.ErrorReason != "" {
			return apperrors.Validation("done items must not carry error fields")
		}
	case state.ItemStatusFailed:
		if len(req.Output) > 0 {
			return apperrors.Validation("failed items must not carry output")
		}
		if req.ErrorReason == "" {
			return apperrors.Validation("failed items require an error reason")
		}
		if req.ErrorType != "" && !req.ErrorType.Valid() {
			return apperrors.Validation("unknown error type %q", req.ErrorType)
		}
	case state.ItemStatusAbandoned:
		if len(req.Output) > 0 {
			return apperrors.Validation("abandoned items must not carry output")
		}
		if req.ErrorReason == "" {
			return apperrors.Validation("abandoned items require an error reason")
		}
		if req.ErrorType != "" {
			return apperrors.Validation("abandoned items must not carry an error type")
		}
	default:
		return apperrors.Validation("status %q is not a valid claimant report", req.Status)
	}
	return nil
}
