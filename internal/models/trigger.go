package models

import (
	"orchex/internal/state"
	"time"
)

// Trigger is a schedule source that creates jobs, either on a cron cadence
// (time trigger) or by polling a queue for available items (queue trigger).
// The two variants share one record; the store clears the inactive variant's
// fields whenever the type changes.
type Trigger struct {
	ID         int64
	Name       string
	Enabled    bool
	ProcessRef string
	WorkerRef  *string
	Type       state.TriggerType

	// Time trigger fields.
	CronExpression *string
	Timezone       *string

	// Queue trigger fields.
	QueueID         *int64
	BatchSize       *int
	PollingInterval *time.Duration

	NextFireAt  *time.Time
	LastFiredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
