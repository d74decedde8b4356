package memory

import (
	"context"
	"sort"
	"time"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
	"orchex/internal/store"
)

type itemStore struct {
	s *Store
}

func (r *itemStore) Insert(ctx context.Context, item store.NewItem, enforceUniqueReference bool) (*models.QueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if enforceUniqueReference && item.Reference != nil {
		for _, existing := range r.s.items {
			if existing.QueueID == item.QueueID &&
				existing.Reference != nil && *existing.Reference == *item.Reference {
				return nil, apperrors.ErrReferenceConflict
			}
		}
	}

	now := nowUTC()
	stored := &models.QueueItem{
		ID:        r.s.nextID(),
		QueueID:   item.QueueID,
		Reference: clonePtr(item.Reference),
		Status:    state.ItemStatusNew,
		Priority:  item.Priority,
		Payload:   append([]byte(nil), item.Payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.items[stored.ID] = stored
	return cloneItem(stored), nil
}

func (r *itemStore) FindByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.items[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *itemStore) List(ctx context.Context, queueID int64, status state.ItemStatus, page, pageSize int) (*models.PaginationResult[models.QueueItem], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []models.QueueItem
	for _, item := range r.s.items {
		if item.QueueID != queueID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		all = append(all, *cloneItem(item))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	return paginate(all, page, pageSize), nil
}

// ClaimNext performs selection and locking under the store mutex: the scan
// and the mark are one critical section, matching the atomicity of the
// Postgres conditional update.
func (r *itemStore) ClaimNext(ctx context.Context, queueID int64, claimant string, batch int, visibility time.Duration) ([]models.QueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := nowUTC()

	var eligible []*models.QueueItem
	for _, item := range r.s.items {
		if item.QueueID != queueID {
			continue
		}
		switch {
		case item.Status == state.ItemStatusNew:
			eligible = append(eligible, item)
		case item.Status == state.ItemStatusInProgress &&
			item.LockedAt != nil && now.Sub(*item.LockedAt) > visibility:
			eligible = append(eligible, item)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > batch {
		eligible = eligible[:batch]
	}

	claimed := make([]models.QueueItem, 0, len(eligible))
	for _, item := range eligible {
		item.Status = state.ItemStatusInProgress
		item.LockedBy = ptr(claimant)
		item.LockedAt = ptr(now)
		item.UpdatedAt = now
		claimed = append(claimed, *cloneItem(item))
	}
	return claimed, nil
}

func (r *itemStore) Resolve(ctx context.Context, res store.Resolution) (*models.QueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.items[res.ItemID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	now := nowUTC()
	if item.Status != state.ItemStatusInProgress ||
		item.LockedBy == nil || *item.LockedBy != res.Claimant ||
		item.LockedAt == nil || now.Sub(*item.LockedAt) > res.Visibility {
		return nil, apperrors.ErrLeaseConflict
	}

	item.LockedBy = nil
	item.LockedAt = nil
	item.UpdatedAt = now

	switch res.Status {
	case state.ItemStatusDone:
		item.Status = state.ItemStatusDone
		item.Output = append([]byte(nil), res.Output...)
		item.ErrorType = nil
		item.ErrorReason = nil
		item.CompletedAt = ptr(now)

	case state.ItemStatusFailed:
		errType := res.ErrorType
		if errType == "" {
			errType = state.ErrorTypeApplication
		}
		item.ErrorType = ptr(errType)
		item.ErrorReason = ptr(res.ErrorReason)
		if errType == state.ErrorTypeBusiness {
			item.Status = state.ItemStatusFailed
			item.Retries = max(item.Retries, res.MaxRetries)
			item.CompletedAt = ptr(now)
			break
		}
		item.Retries++
		if item.Retries < res.MaxRetries {
			item.Status = state.ItemStatusNew
		} else {
			item.Status = state.ItemStatusFailed
			item.CompletedAt = ptr(now)
		}

	case state.ItemStatusAbandoned:
		item.Status = state.ItemStatusAbandoned
		item.Retries = max(item.Retries, res.MaxRetries)
		item.ErrorType = nil
		item.ErrorReason = ptr(res.ErrorReason)
		item.CompletedAt = ptr(now)
	}

	return cloneItem(item), nil
}

func (r *itemStore) Requeue(ctx context.Context, id int64) (*models.QueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.items[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if item.Status != state.ItemStatusFailed {
		return nil, apperrors.ErrRequeueNotAllowed
	}

	item.Status = state.ItemStatusNew
	item.Retries = 0
	item.Output = nil
	item.ErrorType = nil
	item.ErrorReason = nil
	item.LockedBy = nil
	item.LockedAt = nil
	item.CompletedAt = nil
	item.UpdatedAt = nowUTC()

	return cloneItem(item), nil
}

func (r *itemStore) SweepExpired(ctx context.Context, queueID int64, olderThan time.Duration, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := nowUTC()
	var swept int64
	for _, item := range r.s.items {
		if queueID > 0 && item.QueueID != queueID {
			continue
		}
		if item.Status != state.ItemStatusInProgress ||
			item.LockedAt == nil || now.Sub(*item.LockedAt) <= olderThan {
			continue
		}

		item.Status = state.ItemStatusAbandoned
		item.ErrorReason = ptr(reason)
		if queue, ok := r.s.queues[item.QueueID]; ok {
			item.Retries = max(item.Retries, queue.MaxRetries)
		}
		item.LockedBy = nil
		item.LockedAt = nil
		item.CompletedAt = ptr(now)
		item.UpdatedAt = now
		swept++
	}
	return swept, nil
}

func (r *itemStore) SetJobID(ctx context.Context, itemIDs []int64, jobID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range itemIDs {
		if item, ok := r.s.items[id]; ok {
			item.JobID = ptr(jobID)
			item.UpdatedAt = nowUTC()
		}
	}
	return nil
}

func (r *itemStore) CloseForJob(ctx context.Context, jobID int64, succeeded bool, errReason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := nowUTC()
	var updated int64
	for _, item := range r.s.items {
		if item.JobID == nil || *item.JobID != jobID || item.Status.Terminal() {
			continue
		}

		if succeeded {
			item.Status = state.ItemStatusDone
			item.ErrorType = nil
			item.ErrorReason = nil
		} else {
			item.Status = state.ItemStatusFailed
			if item.ErrorType == nil {
				item.ErrorType = ptr(state.ErrorTypeApplication)
			}
			if item.ErrorReason == nil {
				item.ErrorReason = ptr(errReason)
			}
		}
		item.LockedBy = nil
		item.LockedAt = nil
		item.CompletedAt = ptr(now)
		item.UpdatedAt = now
		updated++
	}
	return updated, nil
}
