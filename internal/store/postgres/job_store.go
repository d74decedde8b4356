package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/lib/pq"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
	"orchex/internal/store"
)

const jobColumns = `id, source, trigger_id, process_ref, worker_ref, queue_item_ids,
	       status, error_message, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (r *PostgresJobStore) Create(ctx context.Context, job store.NewJob) (*models.Job, error) {
	query := `
		INSERT INTO orchex_schema.jobs
			(source, trigger_id, process_ref, worker_ref, queue_item_ids, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + jobColumns

	return scanJob(r.db.QueryRowContext(ctx, query,
		job.Source, job.TriggerID, job.ProcessRef, job.WorkerRef,
		pq.Array(job.QueueItemIDs), state.JobStatusPending))
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM orchex_schema.jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return job, err
}

func (r *PostgresJobStore) List(ctx context.Context, status state.JobStatus, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "TRUE"
	args := []any{}
	argIndex := 1
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	var totalItems int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchex_schema.jobs WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	selectQuery := `SELECT ` + jobColumns + ` FROM orchex_schema.jobs WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.Job]{
		Items:           jobs,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (r *PostgresJobStore) UpdateStatus(ctx context.Context, id int64, status state.JobStatus, errMessage string) (*models.Job, error) {
	query := `
		UPDATE orchex_schema.jobs
		SET status = $2,
		    error_message = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, status, errMessage))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return job, err
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var itemIDs pq.Int64Array
	if err := row.Scan(
		&job.ID,
		&job.Source,
		&job.TriggerID,
		&job.ProcessRef,
		&job.WorkerRef,
		&itemIDs,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.QueueItemIDs = itemIDs
	return &job, nil
}
