package memory

import (
	"context"
	"sort"
	"time"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
)

type triggerStore struct {
	s *Store
}

func (r *triggerStore) Create(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := nowUTC()
	stored := cloneTrigger(t)
	stored.ID = r.s.nextID()
	stored.NextFireAt = nil
	stored.LastFiredAt = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	clearInactive(stored)

	r.s.triggers[stored.ID] = stored
	return cloneTrigger(stored), nil
}

func (r *triggerStore) FindByID(ctx context.Context, id int64) (*models.Trigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.triggers[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneTrigger(t), nil
}

func (r *triggerStore) List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Trigger], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]models.Trigger, 0, len(r.s.triggers))
	for _, t := range r.s.triggers {
		all = append(all, *cloneTrigger(t))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return paginate(all, page, pageSize), nil
}

func (r *triggerStore) Update(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.triggers[t.ID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	updated := cloneTrigger(t)
	updated.Enabled = current.Enabled
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = nowUTC()
	clearInactive(updated)

	if current.Type != updated.Type {
		updated.NextFireAt = nil
		updated.LastFiredAt = nil
	} else {
		updated.NextFireAt = clonePtr(current.NextFireAt)
		updated.LastFiredAt = clonePtr(current.LastFiredAt)
	}

	r.s.triggers[t.ID] = updated
	return cloneTrigger(updated), nil
}

func (r *triggerStore) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.triggers[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.triggers, id)
	return nil
}

func (r *triggerStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.triggers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	t.Enabled = enabled
	t.UpdatedAt = nowUTC()
	return nil
}

func (r *triggerStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []models.Trigger
	for _, t := range r.s.triggers {
		if !t.Enabled {
			continue
		}
		if t.NextFireAt == nil || !t.NextFireAt.After(now) {
			due = append(due, *cloneTrigger(t))
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		// Unset fire times first, then oldest due.
		switch {
		case due[i].NextFireAt == nil:
			return true
		case due[j].NextFireAt == nil:
			return false
		default:
			return due[i].NextFireAt.Before(*due[j].NextFireAt)
		}
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *triggerStore) SetNextFire(ctx context.Context, id int64, nextFireAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.triggers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	t.NextFireAt = ptr(nextFireAt)
	t.UpdatedAt = nowUTC()
	return nil
}

func (r *triggerStore) MarkFired(ctx context.Context, id int64, firedAt, nextFireAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.triggers[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	t.LastFiredAt = ptr(firedAt)
	t.NextFireAt = ptr(nextFireAt)
	t.UpdatedAt = nowUTC()
	return nil
}

func clearInactive(t *models.Trigger) {
	switch t.Type {
	case state.TriggerTypeTime:
		t.QueueID = nil
		t.BatchSize = nil
		t.PollingInterval = nil
	case state.TriggerTypeQueue:
		t.CronExpression = nil
		t.Timezone = nil
	}
}
