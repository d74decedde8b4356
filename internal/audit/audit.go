// Package audit defines the audit-logging collaborator. Audit trails are
// owned by an external system; the orchestrator only emits events, best
// effort, and swallows failures.
package audit

import (
	"context"
	"log/slog"
)

type Event struct {
	Action   string
	Entity   string
	Before   any
	After    any
	Metadata map[string]any
}

type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger is the default audit sink when no external collaborator is
// wired in.
type SlogLogger struct {
	log *slog.Logger
}

func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log}
}

func (l *SlogLogger) Log(ctx context.Context, event Event) {
	l.log.InfoContext(ctx, "audit",
		slog.String("action", event.Action),
		slog.String("entity", event.Entity),
		slog.Any("before", event.Before),
		slog.Any("after", event.After),
		slog.Any("metadata", event.Metadata))
}

// Noop discards all events.
type Noop struct{}

func (Noop) Log(ctx context.Context, event Event) {}
