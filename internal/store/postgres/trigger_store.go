package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
)

const triggerColumns = `id, name, enabled, process_ref, worker_ref, type,
	       cron_expression, timezone, queue_id, batch_size, polling_interval_secs,
	       next_fire_at, last_fired_at, created_at, updated_at`

type PostgresTriggerStore struct {
	db *sql.DB
}

func NewPostgresTriggerStore(db *sql.DB) *PostgresTriggerStore {
	return &PostgresTriggerStore{db: db}
}

func (r *PostgresTriggerStore) Create(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	clearInactiveVariant(t)

	query := `
		INSERT INTO orchex_schema.triggers
			(name, enabled, process_ref, worker_ref, type,
			 cron_expression, timezone, queue_id, batch_size, polling_interval_secs,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING ` + triggerColumns

	return scanTrigger(r.db.QueryRowContext(ctx, query,
		t.Name, t.Enabled, t.ProcessRef, t.WorkerRef, t.Type,
		t.CronExpression, t.Timezone, t.QueueID, t.BatchSize, pollingSeconds(t.PollingInterval)))
}

func (r *PostgresTriggerStore) FindByID(ctx context.Context, id int64) (*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM orchex_schema.triggers WHERE id = $1`
	t, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return t, err
}

func (r *PostgresTriggerStore) List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Trigger], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchex_schema.triggers`).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+triggerColumns+`
		FROM orchex_schema.triggers
		ORDER BY name ASC
		LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.Trigger]{
		Items:           triggers,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

// Update replaces the mutable fields. A type change clears the previous
// variant's configuration and the fire bookkeeping, so a repurposed trigger
// starts from a clean schedule.
func (r *PostgresTriggerStore) Update(ctx context.Context, t *models.Trigger) (*models.Trigger, error) {
	current, err := r.FindByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	clearInactiveVariant(t)
	resetSchedule := current.Type != t.Type

	query := `
		UPDATE orchex_schema.triggers
		SET name = $2,
		    process_ref = $3,
		    worker_ref = $4,
		    type = $5,
		    cron_expression = $6,
		    timezone = $7,
		    queue_id = $8,
		    batch_size = $9,
		    polling_interval_secs = $10,
		    next_fire_at = CASE WHEN $11 THEN NULL ELSE next_fire_at END,
		    last_fired_at = CASE WHEN $11 THEN NULL ELSE last_fired_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + triggerColumns

	updated, err := scanTrigger(r.db.QueryRowContext(ctx, query,
		t.ID, t.Name, t.ProcessRef, t.WorkerRef, t.Type,
		t.CronExpression, t.Timezone, t.QueueID, t.BatchSize, pollingSeconds(t.PollingInterval),
		resetSchedule))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return updated, err
}

func (r *PostgresTriggerStore) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orchex_schema.triggers WHERE id = $1`, id)
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

func (r *PostgresTriggerStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orchex_schema.triggers
		SET enabled = $2, updated_at = now()
		WHERE id = $1`, id, enabled)
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

func (r *PostgresTriggerStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+triggerColumns+`
		FROM orchex_schema.triggers
		WHERE enabled = TRUE
		  AND (next_fire_at IS NULL OR next_fire_at <= $1)
		ORDER BY next_fire_at ASC NULLS FIRST
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func (r *PostgresTriggerStore) SetNextFire(ctx context.Context, id int64, nextFireAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orchex_schema.triggers
		SET next_fire_at = $2, updated_at = now()
		WHERE id = $1`, id, nextFireAt)
	return err
}

func (r *PostgresTriggerStore) MarkFired(ctx context.Context, id int64, firedAt, nextFireAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orchex_schema.triggers
		SET last_fired_at = $2, next_fire_at = $3, updated_at = now()
		WHERE id = $1`, id, firedAt, nextFireAt)
	return err
}

// clearInactiveVariant enforces the tagged-variant shape on the record: only
// the field group of the active type survives a write.
func clearInactiveVariant(t *models.Trigger) {
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

func pollingSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	secs := int64(d.Seconds())
	return &secs
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var t models.Trigger
	var pollingSecs *int64
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Enabled,
		&t.ProcessRef,
		&t.WorkerRef,
		&t.Type,
		&t.CronExpression,
		&t.Timezone,
		&t.QueueID,
		&t.BatchSize,
		&pollingSecs,
		&t.NextFireAt,
		&t.LastFiredAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if pollingSecs != nil {
		d := time.Duration(*pollingSecs) * time.Second
		t.PollingInterval = &d
	}
	return &t, nil
}
