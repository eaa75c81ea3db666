package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

// AuditStore persists and prunes deny events.
type AuditStore interface {
	RecordDeny(ctx context.Context, event authz.DenyEvent) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// AuditJob handles the audit tasks.
type AuditJob struct {
	Store   AuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditJob wires dependencies for the audit handlers.
func NewAuditJob(store AuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditJob {
	return &AuditJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers returns the task handlers to register on the worker.
func (j *AuditJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAuditDeny, Handler: j.HandleDeny},
		{Type: TaskAuditPrune, Handler: j.HandlePrune},
	}
}

// HandleDeny writes the deny event carried by the task.
func (j *AuditJob) HandleDeny(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit deny: handler not configured")
	}
	var event authz.DenyEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return asynq.SkipRetry
	}
	if event.Entity == "" || event.Action == "" {
		j.logger().Warn("audit deny: incomplete event dropped", slog.String("principal_id", event.PrincipalID))
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditDeny)
	defer func() { err = tracker.End(err) }()

	if err = j.Store.RecordDeny(ctx, event); err != nil {
		j.logger().Error("audit deny: record", slog.String("principal_id", event.PrincipalID), slog.Any("error", err))
		return err
	}
	j.Metrics.AddDenial(event.Entity)
	return nil
}

// HandlePrune removes audit rows older than the retention window.
func (j *AuditJob) HandlePrune(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() { err = tracker.End(err) }()

	cutoff := j.now().Add(-payload.Retention())
	removed, err := j.Store.Prune(ctx, cutoff)
	if err != nil {
		j.logger().Error("audit prune", slog.Time("cutoff", cutoff), slog.Any("error", err))
		return err
	}
	j.Metrics.AddPruned(removed)
	j.logger().Info("audit prune completed", slog.Time("cutoff", cutoff), slog.Int64("removed", removed))
	return nil
}

func (j *AuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *AuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// AuditEnqueuer is an authz.DenyAuditor that hands deny events to the worker
// instead of writing them on the request path.
type AuditEnqueuer struct {
	client *Client
	logger *slog.Logger
}

// NewAuditEnqueuer wraps a queue client.
func NewAuditEnqueuer(client *Client, logger *slog.Logger) *AuditEnqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEnqueuer{client: client, logger: logger}
}

// RecordDeny enqueues the event.
func (a *AuditEnqueuer) RecordDeny(ctx context.Context, event authz.DenyEvent) error {
	if a == nil || a.client == nil {
		return errors.New("audit enqueuer not configured")
	}
	info, err := a.client.EnqueueAuditDeny(ctx, event)
	if err != nil {
		return err
	}
	a.logger.Debug("audit deny enqueued", slog.String("task_id", info.ID), slog.String("principal_id", event.PrincipalID))
	return nil
}
