// Package audit stores authorization denials in PostgreSQL.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

type querier interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Entry is a stored deny event.
type Entry struct {
	ID string `json:"id"`
	authz.DenyEvent
}

// Recorder writes deny events into authz_audit_log.
type Recorder struct {
	db    querier
	newID func() string
}

// NewRecorder returns a Recorder over a pgx pool or transaction.
func NewRecorder(db querier) *Recorder {
	return &Recorder{db: db, newID: uuid.NewString}
}

// RecordDeny persists the event.
func (r *Recorder) RecordDeny(ctx context.Context, event authz.DenyEvent) error {
	if r == nil || r.db == nil {
		return errors.New("audit recorder not initialised")
	}
	if event.PrincipalID == "" && event.Reason == "" {
		return errors.New("audit deny requires principal or reason")
	}
	if event.Entity == "" || event.Action == "" {
		return errors.New("audit deny requires entity/action")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO authz_audit_log (id, principal_id, entity, action, field, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.newID(), event.PrincipalID, event.Entity, event.Action, event.Field, event.Reason, event.OccurredAt)
	return err
}

// List returns the most recent denials, newest first, optionally for one principal.
func (r *Recorder) List(ctx context.Context, principalID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, principal_id, entity, action, field, reason, occurred_at
		FROM authz_audit_log
		WHERE ($1 = '' OR principal_id = $1)
		ORDER BY occurred_at DESC, id
		LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.Entity, &e.Action, &e.Field, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes denials older than before and reports how many were removed.
func (r *Recorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, errors.New("audit prune requires a cutoff")
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM authz_audit_log WHERE occurred_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
