package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
	"orchex/internal/store"
)

func newQueue(t *testing.T, s *Store, maxRetries int, enforceUnique bool) *models.Queue {
	t.Helper()
	q, err := s.QueueStore().Create(context.Background(), "emails", maxRetries, enforceUnique)
	require.NoError(t, err)
	return q
}

func insertItem(t *testing.T, s *Store, queueID int64, priority int) *models.QueueItem {
	t.Helper()
	item, err := s.QueueItemStore().Insert(context.Background(), store.NewItem{
		QueueID:  queueID,
		Priority: priority,
		Payload:  json.RawMessage(`{"to":"user@example.com"}`),
	}, false)
	require.NoError(t, err)
	return item
}

func TestQueueStore_CreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.QueueStore().Create(ctx, "emails", 3, false)
	require.NoError(t, err)

	_, err = s.QueueStore().Create(ctx, "emails", 5, true)
	assert.ErrorIs(t, err, apperrors.ErrQueueNameConflict)
}

func TestQueueStore_UpdateKeepsUniqueReferenceFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, true)

	updated, err := s.QueueStore().Update(ctx, q.ID, "emails-v2", 5)
	require.NoError(t, err)
	assert.Equal(t, "emails-v2", updated.Name)
	assert.Equal(t, 5, updated.MaxRetries)
	assert.True(t, updated.EnforceUniqueReference, "the uniqueness flag is fixed at creation")
}

func TestItemStore_InsertEnforcesUniqueReferencePerQueue(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, true)
	ref := "invoice-42"

	_, err := s.QueueItemStore().Insert(ctx, store.NewItem{QueueID: q.ID, Reference: &ref}, true)
	require.NoError(t, err)

	_, err = s.QueueItemStore().Insert(ctx, store.NewItem{QueueID: q.ID, Reference: &ref}, true)
	assert.ErrorIs(t, err, apperrors.ErrReferenceConflict)

	// The same reference is fine in another queue.
	other, err := s.QueueStore().Create(ctx, "other", 0, true)
	require.NoError(t, err)
	_, err = s.QueueItemStore().Insert(ctx, store.NewItem{QueueID: other.ID, Reference: &ref}, true)
	assert.NoError(t, err)

	// Items without a reference never conflict.
	_, err = s.QueueItemStore().Insert(ctx, store.NewItem{QueueID: q.ID}, true)
	assert.NoError(t, err)
	_, err = s.QueueItemStore().Insert(ctx, store.NewItem{QueueID: q.ID}, true)
	assert.NoError(t, err)
}

func TestItemStore_ClaimNextOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, false)

	low := insertItem(t, s, q.ID, 1)
	highOld := insertItem(t, s, q.ID, 9)
	highNew := insertItem(t, s, q.ID, 9)

	// Force distinct creation times; map iteration must not decide order.
	s.mu.Lock()
	s.items[highOld.ID].CreatedAt = s.items[highOld.ID].CreatedAt.Add(-time.Minute)
	s.mu.Unlock()

	claimed, err := s.QueueItemStore().ClaimNext(ctx, q.ID, "worker-1", 3, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, highOld.ID, claimed[0].ID)
	assert.Equal(t, highNew.ID, claimed[1].ID)
	assert.Equal(t, low.ID, claimed[2].ID)

	for _, item := range claimed {
		assert.Equal(t, state.ItemStatusInProgress, item.Status)
		require.NotNil(t, item.LockedBy)
		assert.Equal(t, "worker-1", *item.LockedBy)
		assert.NotNil(t, item.LockedAt)
	}
}

func TestItemStore_ClaimNextNeverHandsOutTheSameItemTwice(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, false)

	const itemCount = 50
	for i := 0; i < itemCount; i++ {
		insertItem(t, s, q.ID, 0)
	}

	const workers = 20
	var mu sync.Mutex
	seen := make(map[int64]string)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			claimant := string(rune('a' + worker))
			for {
				claimed, err := s.QueueItemStore().ClaimNext(ctx, q.ID, claimant, 3, time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, item := range claimed {
					prev, dup := seen[item.ID]
					assert.False(t, dup, "item %d claimed by both %s and %s", item.ID, prev, claimant)
					seen[item.ID] = claimant
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, seen, itemCount)
}

func TestItemStore_ClaimNextReclaimsOnlyExpiredLeases(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, false)
	item := insertItem(t, s, q.ID, 0)

	claimed, err := s.QueueItemStore().ClaimNext(ctx, q.ID, "worker-1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The lease is live, so a second claimant gets nothing.
	claimed, err = s.QueueItemStore().ClaimNext(ctx, q.ID, "worker-2", 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Age the lease past the visibility timeout.
	s.mu.Lock()
	expired := s.items[item.ID].LockedAt.Add(-2 * time.Minute)
	s.items[item.ID].LockedAt = &expired
	s.mu.Unlock()

	claimed, err = s.QueueItemStore().ClaimNext(ctx, q.ID, "worker-2", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "worker-2", *claimed[0].LockedBy)
}

func resolve(t *testing.T, s *Store, itemID int64, claimant string, status state.ItemStatus, errType state.ErrorType, reason string, maxRetries int) (*models.QueueItem, error) {
	t.Helper()
	return s.QueueItemStore().Resolve(context.Background(), store.Resolution{
		ItemID:      itemID,
		Claimant:    claimant,
		Status:      status,
		ErrorType:   errType,
		ErrorReason: reason,
		MaxRetries:  maxRetries,
		Visibility:  time.Minute,
	})
}

func claimOne(t *testing.T, s *Store, queueID int64, claimant string) models.QueueItem {
	t.Helper()
	claimed, err := s.QueueItemStore().ClaimNext(context.Background(), queueID, claimant, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestItemStore_ResolveDoneClearsErrorFieldsAndLease(t *testing.T) {
	s := New()
	q := newQueue(t, s, 3, false)
	insertItem(t, s, q.ID, 0)
	item := claimOne(t, s, q.ID, "worker-1")

	done, err := s.QueueItemStore().Resolve(context.Background(), store.Resolution{
		ItemID:     item.ID,
		Claimant:   "worker-1",
		Status:     state.ItemStatusDone,
		Output:     json.RawMessage(`{"sent":true}`),
		MaxRetries: 3,
		Visibility: time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, state.ItemStatusDone, done.Status)
	assert.JSONEq(t, `{"sent":true}`, string(done.Output))
	assert.Nil(t, done.ErrorType)
	assert.Nil(t, done.ErrorReason)
	assert.Nil(t, done.LockedBy)
	assert.Nil(t, done.LockedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestItemStore_ResolveRejectsForeignOrExpiredLease(t *testing.T) {
	s := New()
	q := newQueue(t, s, 3, false)
	insertItem(t, s, q.ID, 0)
	item := claimOne(t, s, q.ID, "worker-1")

	// Wrong claimant.
	_, err := resolve(t, s, item.ID, "imposter", state.ItemStatusDone, "", "", 3)
	assert.ErrorIs(t, err, apperrors.ErrLeaseConflict)

	// Expired lease, even for the right claimant.
	s.mu.Lock()
	expired := s.items[item.ID].LockedAt.Add(-2 * time.Minute)
	s.items[item.ID].LockedAt = &expired
	s.mu.Unlock()

	_, err = resolve(t, s, item.ID, "worker-1", state.ItemStatusDone, "", "", 3)
	assert.ErrorIs(t, err, apperrors.ErrLeaseConflict)
}

func TestItemStore_ApplicationFailureRetriesUntilExhausted(t *testing.T) {
	s := New()
	q := newQueue(t, s, 2, false)
	insertItem(t, s, q.ID, 0)

	// First failure: retries 1 < 2, back to new.
	item := claimOne(t, s, q.ID, "worker-1")
	failed, err := resolve(t, s, item.ID, "worker-1", state.ItemStatusFailed, state.ErrorTypeApplication, "smtp timeout", q.MaxRetries)
	require.NoError(t, err)
	assert.Equal(t, state.ItemStatusNew, failed.Status)
	assert.Equal(t, 1, failed.Retries)
	assert.Nil(t, failed.LockedBy)

	// Second failure: retries reach max, terminal failed.
	item = claimOne(t, s, q.ID, "worker-1")
	failed, err = resolve(t, s, item.ID, "worker-1", state.ItemStatusFailed, state.ErrorTypeApplication, "smtp timeout", q.MaxRetries)
	require.NoError(t, err)
	assert.Equal(t, state.ItemStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Retries)
	require.NotNil(t, failed.ErrorType)
	assert.Equal(t, state.ErrorTypeApplication, *failed.ErrorType)
	require.NotNil(t, failed.ErrorReason)
	assert.Equal(t, "smtp timeout", *failed.ErrorReason)
	assert.NotNil(t, failed.CompletedAt)
}

func TestItemStore_BusinessFailureIsImmediatelyTerminal(t *testing.T) {
	s := New()
	q := newQueue(t, s, 5, false)
	insertItem(t, s, q.ID, 0)
	item := claimOne(t, s, q.ID, "worker-1")

	failed, err := resolve(t, s, item.ID, "worker-1", state.ItemStatusFailed, state.ErrorTypeBusiness, "account closed", q.MaxRetries)
	require.NoError(t, err)

	assert.Equal(t, state.ItemStatusFailed, failed.Status)
	// Retries raised to the max so the item reads as exhausted.
	assert.Equal(t, q.MaxRetries, failed.Retries)
	require.NotNil(t, failed.ErrorType)
	assert.Equal(t, state.ErrorTypeBusiness, *failed.ErrorType)
}

func TestItemStore_AbandonedIsTerminalWithoutErrorType(t *testing.T) {
	s := New()
	q := newQueue(t, s, 3, false)
	insertItem(t, s, q.ID, 0)
	item := claimOne(t, s, q.ID, "worker-1")

	abandoned, err := resolve(t, s, item.ID, "worker-1", state.ItemStatusAbandoned, "", "worker shutting down", q.MaxRetries)
	require.NoError(t, err)

	assert.Equal(t, state.ItemStatusAbandoned, abandoned.Status)
	assert.Equal(t, q.MaxRetries, abandoned.Retries)
	assert.Nil(t, abandoned.ErrorType)
	require.NotNil(t, abandoned.ErrorReason)
	assert.Equal(t, "worker shutting down", *abandoned.ErrorReason)
}

func TestItemStore_RequeueOnlyFromFailed(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 1, false)
	fresh := insertItem(t, s, q.ID, 0)

	_, err := s.QueueItemStore().Requeue(ctx, fresh.ID)
	assert.ErrorIs(t, err, apperrors.ErrRequeueNotAllowed)

	item := claimOne(t, s, q.ID, "worker-1")
	_, err = resolve(t, s, item.ID, "worker-1", state.ItemStatusFailed, state.ErrorTypeApplication, "boom", q.MaxRetries)
	require.NoError(t, err)

	requeued, err := s.QueueItemStore().Requeue(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ItemStatusNew, requeued.Status)
	assert.Zero(t, requeued.Retries)
	assert.Nil(t, requeued.ErrorType)
	assert.Nil(t, requeued.ErrorReason)
	assert.Nil(t, requeued.Output)
	assert.Nil(t, requeued.CompletedAt)
}

func TestItemStore_SweepExpiredAbandonsAndRaisesRetries(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 4, false)
	insertItem(t, s, q.ID, 0)
	insertItem(t, s, q.ID, 0)

	claimed, err := s.QueueItemStore().ClaimNext(ctx, q.ID, "worker-1", 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Age one lease past the stale bound; the other stays live.
	s.mu.Lock()
	stale := s.items[claimed[0].ID].LockedAt.Add(-25 * time.Hour)
	s.items[claimed[0].ID].LockedAt = &stale
	s.mu.Unlock()

	swept, err := s.QueueItemStore().SweepExpired(ctx, q.ID, 24*time.Hour, "lease expired")
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	dead, err := s.QueueItemStore().FindByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, state.ItemStatusAbandoned, dead.Status)
	assert.Equal(t, q.MaxRetries, dead.Retries)
	require.NotNil(t, dead.ErrorReason)
	assert.Equal(t, "lease expired", *dead.ErrorReason)
	assert.Nil(t, dead.LockedBy)

	alive, err := s.QueueItemStore().FindByID(ctx, claimed[1].ID)
	require.NoError(t, err)
	assert.Equal(t, state.ItemStatusInProgress, alive.Status)
}

func TestItemStore_CloseForJob(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 3, false)

	a := insertItem(t, s, q.ID, 0)
	b := insertItem(t, s, q.ID, 0)
	done := insertItem(t, s, q.ID, 0)

	jobID := int64(99)
	require.NoError(t, s.QueueItemStore().SetJobID(ctx, []int64{a.ID, b.ID, done.ID}, jobID))

	// One item already resolved on its own keeps its outcome.
	claimed := claimOne(t, s, q.ID, "worker-1")
	_, err := resolve(t, s, claimed.ID, "worker-1", state.ItemStatusFailed, state.ErrorTypeBusiness, "duplicate invoice", q.MaxRetries)
	require.NoError(t, err)

	closed, err := s.QueueItemStore().CloseForJob(ctx, jobID, false, "job aborted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	// The self-resolved item kept its own error reason.
	kept, err := s.QueueItemStore().FindByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "duplicate invoice", *kept.ErrorReason)

	for _, id := range []int64{a.ID, b.ID, done.ID} {
		if id == claimed.ID {
			continue
		}
		item, err := s.QueueItemStore().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, state.ItemStatusFailed, item.Status)
		require.NotNil(t, item.ErrorReason)
		assert.Equal(t, "job aborted", *item.ErrorReason)
		require.NotNil(t, item.ErrorType)
		assert.Equal(t, state.ErrorTypeApplication, *item.ErrorType)
	}
}

func TestTriggerStore_TypeChangeResetsSchedule(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := newQueue(t, s, 0, false)

	expr := "* * * * *"
	created, err := s.TriggerStore().Create(ctx, &models.Trigger{
		Name:           "poller",
		Enabled:        true,
		ProcessRef:     "emails/send",
		Type:           state.TriggerTypeTime,
		CronExpression: &expr,
	})
	require.NoError(t, err)

	fireAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TriggerStore().SetNextFire(ctx, created.ID, fireAt))

	// Same-type update keeps the schedule bookkeeping.
	created.CronExpression = &expr
	updated, err := s.TriggerStore().Update(ctx, created)
	require.NoError(t, err)
	require.NotNil(t, updated.NextFireAt)
	assert.Equal(t, fireAt, updated.NextFireAt.UTC())

	// Switching to a queue trigger clears the time variant and the schedule.
	batch := 5
	interval := time.Minute
	updated.Type = state.TriggerTypeQueue
	updated.QueueID = &q.ID
	updated.BatchSize = &batch
	updated.PollingInterval = &interval
	switched, err := s.TriggerStore().Update(ctx, updated)
	require.NoError(t, err)

	assert.Nil(t, switched.CronExpression)
	assert.Nil(t, switched.Timezone)
	assert.Nil(t, switched.NextFireAt)
	assert.Nil(t, switched.LastFiredAt)
	require.NotNil(t, switched.QueueID)
	assert.Equal(t, q.ID, *switched.QueueID)
}

func TestTriggerStore_FetchDueReturnsUnscheduledAndOverdue(t *testing.T) {
	ctx := context.Background()
	s := New()
	expr := "* * * * *"

	mk := func(name string) *models.Trigger {
		created, err := s.TriggerStore().Create(ctx, &models.Trigger{
			Name:           name,
			Enabled:        true,
			ProcessRef:     "p",
			Type:           state.TriggerTypeTime,
			CronExpression: &expr,
		})
		require.NoError(t, err)
		return created
	}

	now := time.Now().UTC()
	fresh := mk("fresh") // no next_fire_at yet
	overdue := mk("overdue")
	require.NoError(t, s.TriggerStore().SetNextFire(ctx, overdue.ID, now.Add(-time.Minute)))
	future := mk("future")
	require.NoError(t, s.TriggerStore().SetNextFire(ctx, future.ID, now.Add(time.Hour)))
	disabled := mk("disabled")
	require.NoError(t, s.TriggerStore().SetNextFire(ctx, disabled.ID, now.Add(-time.Minute)))
	require.NoError(t, s.TriggerStore().SetEnabled(ctx, disabled.ID, false))

	due, err := s.TriggerStore().FetchDue(ctx, now, 10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []int64{fresh.ID, overdue.ID}, ids)
}

func TestJobStore_CreateAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := New()

	triggerID := int64(4)
	job, err := s.JobStore().Create(ctx, store.NewJob{
		Source:       state.JobSourceTrigger,
		TriggerID:    &triggerID,
		ProcessRef:   "emails/send",
		QueueItemIDs: []int64{3, 1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, state.JobStatusPending, job.Status)
	// Claim order is preserved, not sorted.
	assert.Equal(t, []int64{3, 1, 2}, job.QueueItemIDs)

	failed, err := s.JobStore().UpdateStatus(ctx, job.ID, state.JobStatusFailed, "worker crashed")
	require.NoError(t, err)
	assert.Equal(t, state.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "worker crashed", *failed.ErrorMessage)

	_, err = s.JobStore().UpdateStatus(ctx, 12345, state.JobStatusSucceeded, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
