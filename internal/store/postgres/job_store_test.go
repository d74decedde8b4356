package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchex/internal/apperrors"
	"orchex/internal/state"
	"orchex/internal/store"
)

var jobRowColumns = []string{
	"id", "source", "trigger_id", "process_ref", "worker_ref", "queue_item_ids",
	"status", "error_message", "created_at", "updated_at",
}

func TestPostgresJobStore_CreateKeepsItemOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresJobStore(db)
	now := time.Now()
	triggerID := int64(7)

	mock.ExpectQuery("INSERT INTO orchex_schema.jobs").
		WithArgs(state.JobSourceTrigger, &triggerID, "proc-invoices", nil,
			pq.Array([]int64{3, 1, 2}), state.JobStatusPending).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(5, "trigger", 7, "proc-invoices", nil, "{3,1,2}",
				"pending", nil, now, now))

	job, err := s.Create(context.Background(), store.NewJob{
		Source:       state.JobSourceTrigger,
		TriggerID:    &triggerID,
		ProcessRef:   "proc-invoices",
		QueueItemIDs: []int64{3, 1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), job.ID)
	assert.Equal(t, []int64{3, 1, 2}, job.QueueItemIDs)
	assert.Equal(t, state.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateStatusStoresFailureMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresJobStore(db)
	now := time.Now()

	mock.ExpectQuery("UPDATE orchex_schema.jobs").
		WithArgs(int64(5), state.JobStatusFailed, "worker crashed").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(5, "trigger", 7, "proc-invoices", nil, "{3,1,2}",
				"failed", "worker crashed", now, now))

	job, err := s.UpdateStatus(context.Background(), 5, state.JobStatusFailed, "worker crashed")
	require.NoError(t, err)
	assert.Equal(t, state.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "worker crashed", *job.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateStatusMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresJobStore(db)

	mock.ExpectQuery("UPDATE orchex_schema.jobs").
		WithArgs(int64(404), state.JobStatusSucceeded, "").
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err = s.UpdateStatus(context.Background(), 404, state.JobStatusSucceeded, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_ListFiltersByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresJobStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(state.JobStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM orchex_schema.jobs").
		WithArgs(state.JobStatusRunning, 15, 0).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(5, "manual", nil, "proc-invoices", nil, "{}",
				"running", nil, now, now))

	result, err := s.List(context.Background(), state.JobStatusRunning, 1, 15)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalItems)
	require.Len(t, result.Items, 1)
	assert.Empty(t, result.Items[0].QueueItemIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
