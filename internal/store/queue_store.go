package store

import (
	"context"

	"orchex/internal/models"
)

type QueueStore interface {
	// Create rejects duplicate names with apperrors.ErrQueueNameConflict.
	// EnforceUniqueReference is immutable after creation.
	Create(ctx context.Context, name string, maxRetries int, enforceUniqueReference bool) (*models.Queue, error)
	FindByID(ctx context.Context, id int64) (*models.Queue, error)
	FindByName(ctx context.Context, name string) (*models.Queue, error)
	List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Queue], error)
	Update(ctx context.Context, id int64, name string, maxRetries int) (*models.Queue, error)
	Delete(ctx context.Context, id int64) error
}
