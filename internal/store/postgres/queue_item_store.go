package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lib/pq"

	"orchex/internal/apperrors"
	"orchex/internal/models"
	"orchex/internal/state"
	"orchex/internal/store"
)

const itemColumns = `id, queue_id, reference, status, priority, payload, output,
	       error_type, error_reason, retries, locked_by, locked_at, job_id,
	       created_at, updated_at, completed_at`

type PostgresQueueItemStore struct {
	db *sql.DB
}

func NewPostgresQueueItemStore(db *sql.DB) *PostgresQueueItemStore {
	return &PostgresQueueItemStore{db: db}
}

func (r *PostgresQueueItemStore) Insert(ctx context.Context, item store.NewItem, enforceUniqueReference bool) (*models.QueueItem, error) {
	if enforceUniqueReference && item.Reference != nil {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		// The guarded insert alone is racy under READ COMMITTED: two
		// concurrent inserts can each see no existing row and both commit.
		// The advisory lock on (queue_id, reference) serializes them for
		// the duration of the transaction.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`,
			item.QueueID, *item.Reference); err != nil {
			return nil, fmt.Errorf("lock reference: %w", err)
		}

		query := `
			INSERT INTO orchex_schema.queue_items
				(queue_id, reference, status, priority, payload, retries, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, 0, now(), now()
			WHERE NOT EXISTS (
				SELECT 1 FROM orchex_schema.queue_items
				WHERE queue_id = $1 AND reference = $2
			)
			RETURNING ` + itemColumns

		out, err := r.scanOne(tx.QueryRowContext(ctx, query,
			item.QueueID, item.Reference, state.ItemStatusNew, item.Priority, []byte(item.Payload)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrReferenceConflict
		}
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return out, nil
	}

	query := `
		INSERT INTO orchex_schema.queue_items
			(queue_id, reference, status, priority, payload, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())
		RETURNING ` + itemColumns

	return r.scanOne(r.db.QueryRowContext(ctx, query,
		item.QueueID, item.Reference, state.ItemStatusNew, item.Priority, []byte(item.Payload)))
}

func (r *PostgresQueueItemStore) FindByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM orchex_schema.queue_items WHERE id = $1`

	item, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return item, err
}

// ClaimNext is the single atomic claim primitive: the conditional update is
// the selection, so two concurrent claimants can never pick the same row.
// Rows already locked by an in-flight claim are skipped, not waited on.
func (r *PostgresQueueItemStore) ClaimNext(ctx context.Context, queueID int64, claimant string, batch int, visibility time.Duration) ([]models.QueueItem, error) {
	query := `
		UPDATE orchex_schema.queue_items
		SET status = $1,
		    locked_by = $2,
		    locked_at = now(),
		    updated_at = now()
		WHERE id IN (
			SELECT id FROM orchex_schema.queue_items
			WHERE queue_id = $3
			  AND (
				status = $4
				OR (status = $1 AND locked_at < now() - ($5 * interval '1 second'))
			  )
			ORDER BY priority DESC, created_at ASC
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + itemColumns

	rows, err := r.db.QueryContext(ctx, query,
		state.ItemStatusInProgress, claimant, queueID, state.ItemStatusNew,
		int64(visibility.Seconds()), batch)
	if err != nil {
		return nil, fmt.Errorf("claim items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subselect order.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	return items, nil
}

// Resolve applies a claimant's report inside one transaction: the row is
// locked, the lease ownership checked, and the retry contract applied, so a
// lease-expired reassignment can never be overwritten silently.
func (r *PostgresQueueItemStore) Resolve(ctx context.Context, res store.Resolution) (*models.QueueItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + itemColumns + ` FROM orchex_schema.queue_items WHERE id = $1 FOR UPDATE`
	item, err := r.scanOne(tx.QueryRowContext(ctx, query, res.ItemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !ownsLease(item, res.Claimant, res.Visibility) {
		return nil, apperrors.ErrLeaseConflict
	}

	next := applyResolution(item, res)

	updated, err := r.scanOne(tx.QueryRowContext(ctx, `
		UPDATE orchex_schema.queue_items
		SET status = $2,
		    output = $3,
		    error_type = $4,
		    error_reason = $5,
		    retries = $6,
		    locked_by = NULL,
		    locked_at = NULL,
		    completed_at = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, next.Status, nullBytes(next.Output), next.ErrorType,
		next.ErrorReason, next.Retries, next.CompletedAt))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresQueueItemStore) Requeue(ctx context.Context, id int64) (*models.QueueItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + itemColumns + ` FROM orchex_schema.queue_items WHERE id = $1 FOR UPDATE`
	item, err := r.scanOne(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if item.Status != state.ItemStatusFailed {
		return nil, apperrors.ErrRequeueNotAllowed
	}

	updated, err := r.scanOne(tx.QueryRowContext(ctx, `
		UPDATE orchex_schema.queue_items
		SET status = $2,
		    retries = 0,
		    output = NULL,
		    error_type = NULL,
		    error_reason = NULL,
		    locked_by = NULL,
		    locked_at = NULL,
		    completed_at = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns, id, state.ItemStatusNew))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresQueueItemStore) SweepExpired(ctx context.Context, queueID int64, olderThan time.Duration, reason string) (int64, error) {
	query := `
		UPDATE orchex_schema.queue_items
		SET status = $1,
		    error_reason = $2,
		    retries = GREATEST(retries, (SELECT max_retries FROM orchex_schema.queues q WHERE q.id = queue_id)),
		    locked_by = NULL,
		    locked_at = NULL,
		    completed_at = now(),
		    updated_at = now()
		WHERE status = $3
		  AND locked_at < now() - ($4 * interval '1 second')`

	args := []any{state.ItemStatusAbandoned, reason, state.ItemStatusInProgress, int64(olderThan.Seconds())}
	if queueID > 0 {
		query += ` AND queue_id = $5`
		args = append(args, queueID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	return result.RowsAffected()
}

func (r *PostgresQueueItemStore) SetJobID(ctx context.Context, itemIDs []int64, jobID int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE orchex_schema.queue_items
		SET job_id = $1, updated_at = now()
		WHERE id = ANY($2)`, jobID, pq.Array(itemIDs))
	return err
}

func (r *PostgresQueueItemStore) CloseForJob(ctx context.Context, jobID int64, succeeded bool, errReason string) (int64, error) {
	var result sql.Result
	var err error
	if succeeded {
		result, err = r.db.ExecContext(ctx, `
			UPDATE orchex_schema.queue_items
			SET status = $2,
			    error_type = NULL,
			    error_reason = NULL,
			    locked_by = NULL,
			    locked_at = NULL,
			    completed_at = now(),
			    updated_at = now()
			WHERE job_id = $1 AND status IN ($3, $4)`,
			jobID, state.ItemStatusDone, state.ItemStatusNew, state.ItemStatusInProgress)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE orchex_schema.queue_items
			SET status = $2,
			    error_type = COALESCE(error_type, $5),
			    error_reason = COALESCE(error_reason, $6),
			    locked_by = NULL,
			    locked_at = NULL,
			    completed_at = now(),
			    updated_at = now()
			WHERE job_id = $1 AND status IN ($3, $4)`,
			jobID, state.ItemStatusFailed, state.ItemStatusNew, state.ItemStatusInProgress,
			state.ErrorTypeApplication, errReason)
	}
	if err != nil {
		return 0, fmt.Errorf("close items for job %d: %w", jobID, err)
	}
	return result.RowsAffected()
}

func (r *PostgresQueueItemStore) List(ctx context.Context, queueID int64, status state.ItemStatus, page, pageSize int) (*models.PaginationResult[models.QueueItem], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "queue_id = $1"
	args := []any{queueID}
	argIndex := 2
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM orchex_schema.queue_items WHERE ` + where
	selectQuery := `SELECT ` + itemColumns + ` FROM orchex_schema.queue_items WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	args = append(args, pageSize, offset)
	rows, err := r.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.QueueItem]{
		Items:           items,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresQueueItemStore) scanOne(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var payload, output []byte
	if err := row.Scan(
		&item.ID,
		&item.QueueID,
		&item.Reference,
		&item.Status,
		&item.Priority,
		&payload,
		&output,
		&item.ErrorType,
		&item.ErrorReason,
		&item.Retries,
		&item.LockedBy,
		&item.LockedAt,
		&item.JobID,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.CompletedAt,
	); err != nil {
		return nil, err
	}
	item.Payload = payload
	item.Output = output
	return &item, nil
}

// ownsLease checks that claimant still holds a live lease on item.
func ownsLease(item *models.QueueItem, claimant string, visibility time.Duration) bool {
	if item.Status != state.ItemStatusInProgress || item.LockedBy == nil || item.LockedAt == nil {
		return false
	}
	if *item.LockedBy != claimant {
		return false
	}
	return time.Since(*item.LockedAt) <= visibility
}

// resolvedItem carries the computed target fields of a resolution.
type resolvedItem struct {
	Status      state.ItemStatus
	Output      []byte
	ErrorType   *state.ErrorType
	ErrorReason *string
	Retries     int
	CompletedAt *time.Time
}

// applyResolution implements the status-update contract:
//   - done clears the error fields and completes the item;
//   - business failures are terminal immediately, with retries raised to the
//     exhaustion marker;
//   - application failures increment retries and requeue the item as new
//     until retries reaches the queue's max, at which point the item stays
//     failed;
//   - abandoned is terminal, keeps the reason, and raises retries to the
//     exhaustion marker.
func applyResolution(item *models.QueueItem, res store.Resolution) resolvedItem {
	now := time.Now().UTC()
	next := resolvedItem{Retries: item.Retries}

	switch res.Status {
	case state.ItemStatusDone:
		next.Status = state.ItemStatusDone
		next.Output = res.Output
		next.CompletedAt = &now

	case state.ItemStatusFailed:
		errType := res.ErrorType
		if errType == "" {
			errType = state.ErrorTypeApplication
		}
		reason := res.ErrorReason
		if errType == state.ErrorTypeBusiness {
			next.Status = state.ItemStatusFailed
			next.Retries = max(item.Retries, res.MaxRetries)
			next.ErrorType = &errType
			next.ErrorReason = &reason
			next.CompletedAt = &now
			break
		}
		next.Retries = item.Retries + 1
		next.ErrorType = &errType
		next.ErrorReason = &reason
		if next.Retries < res.MaxRetries {
			// Implicit requeue: back into the claim pool, keeping the last
			// failure for inspection.
			next.Status = state.ItemStatusNew
		} else {
			next.Status = state.ItemStatusFailed
			next.CompletedAt = &now
		}

	case state.ItemStatusAbandoned:
		reason := res.ErrorReason
		next.Status = state.ItemStatusAbandoned
		next.Retries = max(item.Retries, res.MaxRetries)
		next.ErrorReason = &reason
		next.CompletedAt = &now
	}

	return next
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
