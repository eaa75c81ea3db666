package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries deny events so a burst of denials never starves other work.
	QueueAudit = "audit"
	// TaskAuditDeny persists one deny event to the audit log.
	TaskAuditDeny = "authz:audit_deny"
	// TaskAuditPrune deletes audit rows past the retention window.
	TaskAuditPrune = "authz:audit_prune"
)

// DefaultAuditRetention applies when a prune task does not carry its own window.
const DefaultAuditRetention = 90 * 24 * time.Hour

// AuditPrunePayload configures a retention run.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// Retention returns the window to keep.
func (p AuditPrunePayload) Retention() time.Duration {
	if p.RetentionDays <= 0 {
		return DefaultAuditRetention
	}
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// NewAuditDenyTask builds an audit task for the event.
func NewAuditDenyTask(event authz.DenyEvent) (*asynq.Task, error) {
	if event.Entity == "" || event.Action == "" {
		return nil, errors.New("audit deny task requires entity/action")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDeny, body, asynq.Queue(QueueAudit), asynq.MaxRetry(5)), nil
}

// NewAuditPruneTask builds a retention task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	body, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, body, asynq.Queue(QueueDefault)), nil
}
