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
)

var queueRowColumns = []string{"id", "name", "max_retries", "enforce_unique_reference", "created_at", "updated_at"}

func TestPostgresQueueStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO orchex_schema.queues").
		WithArgs("invoices", 3, true).
		WillReturnRows(sqlmock.NewRows(queueRowColumns).
			AddRow(1, "invoices", 3, true, now, now))

	queue, err := s.Create(context.Background(), "invoices", 3, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queue.ID)
	assert.Equal(t, "invoices", queue.Name)
	assert.True(t, queue.EnforceUniqueReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_CreateDuplicateName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)

	mock.ExpectQuery("INSERT INTO orchex_schema.queues").
		WithArgs("invoices", 3, false).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = s.Create(context.Background(), "invoices", 3, false)
	assert.ErrorIs(t, err, apperrors.ErrQueueNameConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_FindByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)

	mock.ExpectQuery("SELECT (.+) FROM orchex_schema.queues WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(queueRowColumns))

	_, err = s.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_UpdateConflictsOnRename(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)

	mock.ExpectQuery("UPDATE orchex_schema.queues").
		WithArgs(int64(1), "payments", 5).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = s.Update(context.Background(), 1, "payments", 5)
	assert.ErrorIs(t, err, apperrors.ErrQueueNameConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(17))
	mock.ExpectQuery("SELECT (.+) FROM orchex_schema.queues ORDER BY name").
		WithArgs(15, 15).
		WillReturnRows(sqlmock.NewRows(queueRowColumns).
			AddRow(4, "payments", 3, false, now, now).
			AddRow(9, "reports", 1, false, now, now))

	result, err := s.List(context.Background(), 2, 15)
	require.NoError(t, err)
	assert.Equal(t, 17, result.TotalItems)
	assert.Equal(t, 2, result.TotalPages)
	assert.Len(t, result.Items, 2)
	assert.False(t, result.HasNextPage)
	assert.True(t, result.HasPreviousPage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_DeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresQueueStore(db)

	mock.ExpectExec("DELETE FROM orchex_schema.queues").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Delete(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
