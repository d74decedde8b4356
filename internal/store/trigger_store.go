package store

import (
	"context"
	"time"

	"orchex/internal/models"
)

type TriggerStore interface {
	// Create persists a new trigger. The store only keeps the field group
	// matching the trigger's type and nulls the other.
	Create(ctx context.Context, t *models.Trigger) (*models.Trigger, error)
	FindByID(ctx context.Context, id int64) (*models.Trigger, error)
	List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.Trigger], error)

	// Update replaces the mutable fields. When the type changes the previous
	// variant's configuration and the fire bookkeeping are cleared.
	Update(ctx context.Context, t *models.Trigger) (*models.Trigger, error)
	Delete(ctx context.Context, id int64) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// FetchDue returns enabled triggers whose next_fire_at is unset or has
	// passed, oldest due first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.Trigger, error)

	// SetNextFire persists an initial fire time without marking a fire.
	SetNextFire(ctx context.Context, id int64, nextFireAt time.Time) error

	// MarkFired records a completed fire and the recomputed next one.
	MarkFired(ctx context.Context, id int64, firedAt, nextFireAt time.Time) error
}
