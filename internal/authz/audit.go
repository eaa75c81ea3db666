package authz

import (
	"context"
	"log/slog"
	"time"
)

// DenyEvent records who was refused what, and when.
type DenyEvent struct {
	PrincipalID string    `json:"principal_id"`
	Entity      string    `json:"entity"`
	Action      string    `json:"action"`
	// Field names the denied field. A masked record reports every dropped
	// field in one event, comma separated.
	Field       string    `json:"field,omitempty"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DenyAuditor persists or forwards deny events.
type DenyAuditor interface {
	RecordDeny(ctx context.Context, event DenyEvent) error
}

// LogAuditor writes deny events to a structured logger.
type LogAuditor struct {
	Logger *slog.Logger
}

// RecordDeny logs the event at warn level.
func (a LogAuditor) RecordDeny(ctx context.Context, event DenyEvent) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelWarn, "authz deny",
		slog.String("principal_id", event.PrincipalID),
		slog.String("entity", event.Entity),
		slog.String("action", event.Action),
		slog.String("field", event.Field),
		slog.String("reason", event.Reason),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// AuditorFunc adapts a function to DenyAuditor.
type AuditorFunc func(ctx context.Context, event DenyEvent) error

// RecordDeny calls f.
func (f AuditorFunc) RecordDeny(ctx context.Context, event DenyEvent) error {
	return f(ctx, event)
}
