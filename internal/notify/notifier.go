package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Notification kinds emitted by the orchestrator.
const (
	KindItemFailedAfterRetries = "queue_item.failed_after_retries"
	KindTriggerFireFailed      = "trigger.fire_failed"
	KindJobFailed              = "job.failed"
)

// Notification is the wire shape handed to the notification collaborator.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is the external notification collaborator. Sends are
// fire-and-forget from the caller's perspective: a returned error is logged
// and never rolls back the state transition that produced it.
type Notifier interface {
	Send(ctx context.Context, kind string, payload any) error
}

// SlogNotifier writes notifications to the log. It is the default when no
// broker is configured.
type SlogNotifier struct {
	log *slog.Logger
}

func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SlogNotifier{log: log}
}

func (n *SlogNotifier) Send(ctx context.Context, kind string, payload any) error {
	n.log.InfoContext(ctx, "notification",
		slog.String("kind", kind),
		slog.Any("payload", payload))
	return nil
}

// NoopNotifier discards everything. Used in tests.
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, kind string, payload any) error { return nil }
