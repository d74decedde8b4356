package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/lib/pq"

	"orchex/internal/apperrors"
	"orchex/internal/models"
)

const queueColumns = `id, name, max_retries, enforce_unique_reference, created_at, updated_at`

type PostgresQueueStore struct {
	db *sql.DB
}

func NewPostgresQueueStore(db *sql.DB) *PostgresQueueStore {
	return &PostgresQueueStore{db: db}
}

func (r *PostgresQueueStore) Create(ctx context.Context, name string, maxRetries int, enforceUniqueReference bool) (*models.Queue, error) {
	query := `
		INSERT INTO orchex_schema.queues (name, max_retries, enforce_unique_reference, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING ` + queueColumns

	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, name, maxRetries, enforceUniqueReference))
	if isUniqueViolation(err) {
		return nil, apperrors.ErrQueueNameConflict
	}
	return queue, err
}

func (r *PostgresQueueStore) FindByID(ctx context.Context, id int64) (*models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM orchex_schema.queues WHERE id = $1`
	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return queue, err
}

func (r *PostgresQueueStore) FindByName(ctx context.Context, name string) (*models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM orchex_schema.queues WHERE name = $1`
	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return queue, err
}

func (r *PostgresQueueStore) List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Queue], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchex_schema.queues`).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM orchex_schema.queues
		ORDER BY name ASC
		LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, *queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.Queue]{
		Items:           queues,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

// Update changes name and max_retries only; enforce_unique_reference is
// fixed at creation.
func (r *PostgresQueueStore) Update(ctx context.Context, id int64, name string, maxRetries int) (*models.Queue, error) {
	query := `
		UPDATE orchex_schema.queues
		SET name = $2, max_retries = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + queueColumns

	queue, err := scanQueue(r.db.QueryRowContext(ctx, query, id, name, maxRetries))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if isUniqueViolation(err) {
		return nil, apperrors.ErrQueueNameConflict
	}
	return queue, err
}

func (r *PostgresQueueStore) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orchex_schema.queues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanQueue(row rowScanner) (*models.Queue, error) {
	var q models.Queue
	if err := row.Scan(
		&q.ID,
		&q.Name,
		&q.MaxRetries,
		&q.EnforceUniqueReference,
		&q.CreatedAt,
		&q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &q, nil
}

// isUniqueViolation detects SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
