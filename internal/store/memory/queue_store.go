package memory

import (
	"context"
	"sort"

	"orchex/internal/apperrors"
	"orchex/internal/models"
)

type queueStore struct {
	s *Store
}

func (r *queueStore) Create(ctx context.Context, name string, maxRetries int, enforceUniqueReference bool) (*models.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, q := range r.s.queues {
		if q.Name == name {
			return nil, apperrors.ErrQueueNameConflict
		}
	}

	now := nowUTC()
	queue := &models.Queue{
		ID:                     r.s.nextID(),
		Name:                   name,
		MaxRetries:             maxRetries,
		EnforceUniqueReference: enforceUniqueReference,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	r.s.queues[queue.ID] = queue

	cp := *queue
	return &cp, nil
}

func (r *queueStore) FindByID(ctx context.Context, id int64) (*models.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	queue, ok := r.s.queues[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *queue
	return &cp, nil
}

func (r *queueStore) FindByName(ctx context.Context, name string) (*models.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, queue := range r.s.queues {
		if queue.Name == name {
			cp := *queue
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *queueStore) List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Queue], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]models.Queue, 0, len(r.s.queues))
	for _, queue := range r.s.queues {
		all = append(all, *queue)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return paginate(all, page, pageSize), nil
}

func (r *queueStore) Update(ctx context.Context, id int64, name string, maxRetries int) (*models.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	queue, ok := r.s.queues[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	for _, q := range r.s.queues {
		if q.ID != id && q.Name == name {
			return nil, apperrors.ErrQueueNameConflict
		}
	}

	queue.Name = name
	queue.MaxRetries = maxRetries
	queue.UpdatedAt = nowUTC()

	cp := *queue
	return &cp, nil
}

func (r *queueStore) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.queues[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.queues, id)
	return nil
}
