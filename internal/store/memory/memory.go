// Package memory implements every store interface over in-process maps.
// It backs the memory storage driver and the concurrency tests; all methods
// mutate under one mutex so each call is as atomic as its Postgres
// counterpart.
package memory

import (
	"sync"
	"time"

	"orchex/internal/models"
	"orchex/internal/store"
)

type Store struct {
	mu sync.Mutex

	seq      int64
	queues   map[int64]*models.Queue
	items    map[int64]*models.QueueItem
	triggers map[int64]*models.Trigger
	jobs     map[int64]*models.Job
}

func New() *Store {
	return &Store{
		queues:   make(map[int64]*models.Queue),
		items:    make(map[int64]*models.QueueItem),
		triggers: make(map[int64]*models.Trigger),
		jobs:     make(map[int64]*models.Job),
	}
}

func (s *Store) QueueStore() store.QueueStore         { return &queueStore{s} }
func (s *Store) QueueItemStore() store.QueueItemStore { return &itemStore{s} }
func (s *Store) TriggerStore() store.TriggerStore     { return &triggerStore{s} }
func (s *Store) JobStore() store.JobStore             { return &jobStore{s} }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// BackdateLease shifts an item's lock timestamp by delta. Tests use it to
// age leases past the visibility timeout or the stale bound.
func (s *Store) BackdateLease(itemID int64, delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[itemID]; ok && item.LockedAt != nil {
		shifted := item.LockedAt.Add(delta)
		item.LockedAt = &shifted
	}
}

func paginate[T any](all []T, page, pageSize int) *models.PaginationResult[T] {
	if page < 1 {
		page = 1
	}
	total := len(all)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &models.PaginationResult[T]{
		Items:           all[start:end],
		TotalItems:      total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

func cloneItem(item *models.QueueItem) *models.QueueItem {
	cp := *item
	cp.Reference = clonePtr(item.Reference)
	cp.ErrorType = clonePtr(item.ErrorType)
	cp.ErrorReason = clonePtr(item.ErrorReason)
	cp.LockedBy = clonePtr(item.LockedBy)
	cp.LockedAt = clonePtr(item.LockedAt)
	cp.JobID = clonePtr(item.JobID)
	cp.CompletedAt = clonePtr(item.CompletedAt)
	return &cp
}

func cloneTrigger(t *models.Trigger) *models.Trigger {
	cp := *t
	cp.WorkerRef = clonePtr(t.WorkerRef)
	cp.CronExpression = clonePtr(t.CronExpression)
	cp.Timezone = clonePtr(t.Timezone)
	cp.QueueID = clonePtr(t.QueueID)
	cp.BatchSize = clonePtr(t.BatchSize)
	cp.PollingInterval = clonePtr(t.PollingInterval)
	cp.NextFireAt = clonePtr(t.NextFireAt)
	cp.LastFiredAt = clonePtr(t.LastFiredAt)
	return &cp
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	cp.TriggerID = clonePtr(j.TriggerID)
	cp.WorkerRef = clonePtr(j.WorkerRef)
	cp.ErrorMessage = clonePtr(j.ErrorMessage)
	cp.QueueItemIDs = append([]int64(nil), j.QueueItemIDs...)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }

func nowUTC() time.Time { return time.Now().UTC() }
