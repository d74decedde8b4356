package memory

import (
	"context"
	"sort"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
	"orchex/internal/store"
)

type jobStore struct {
	s *Store
}

func (r *jobStore) Create(ctx context.Context, job store.NewJob) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := nowUTC()
	stored := &models.Job{
		ID:           r.s.nextID(),
		Source:       job.Source,
		TriggerID:    clonePtr(job.TriggerID),
		ProcessRef:   job.ProcessRef,
		WorkerRef:    clonePtr(job.WorkerRef),
		QueueItemIDs: append([]int64(nil), job.QueueItemIDs...),
		Status:       state.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.s.jobs[stored.ID] = stored
	return cloneJob(stored), nil
}

func (r *jobStore) FindByID(ctx context.Context, id int64) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *jobStore) List(ctx context.Context, status state.JobStatus, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []models.Job
	for _, job := range r.s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		all = append(all, *cloneJob(job))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	return paginate(all, page, pageSize), nil
}

func (r *jobStore) UpdateStatus(ctx context.Context, id int64, status state.JobStatus, errMessage string) (*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	job.Status = status
	if errMessage != "" {
		job.ErrorMessage = ptr(errMessage)
	} else {
		job.ErrorMessage = nil
	}
	job.UpdatedAt = nowUTC()
	return cloneJob(job), nil
}
