package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

type stubAuditStore struct {
	events  []authz.DenyEvent
	cutoffs []time.Time
	removed int64
	err     error
}

func (s *stubAuditStore) RecordDeny(_ context.Context, event authz.DenyEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubAuditStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return s.removed, s.err
}

func TestHandleDenyPersistsEvent(t *testing.T) {
	store := &stubAuditStore{}
	reg := prometheus.NewRegistry()
	job := NewAuditJob(store, nil, jobmetrics.NewMetrics(reg))

	event := authz.DenyEvent{
		PrincipalID: "u1", Entity: "finance", Action: "export", Reason: "no wildcard grant for entity action",
		OccurredAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	task, err := NewAuditDenyTask(event)
	require.NoError(t, err)
	assert.Equal(t, TaskAuditDeny, task.Type())

	require.NoError(t, job.HandleDeny(context.Background(), task))
	require.Len(t, store.events, 1)
	assert.Equal(t, event, store.events[0])

	expected := `
# HELP odyssey_authz_audit_denials_total Deny events written to the audit log grouped by entity.
# TYPE odyssey_authz_audit_denials_total counter
odyssey_authz_audit_denials_total{entity="finance"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_authz_audit_denials_total"))
}

func TestHandleDenySkipsBadPayload(t *testing.T) {
	store := &stubAuditStore{}
	job := NewAuditJob(store, nil, nil)

	err := job.HandleDeny(context.Background(), asynq.NewTask(TaskAuditDeny, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.HandleDeny(context.Background(), asynq.NewTask(TaskAuditDeny, []byte(`{"principal_id":"u1"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, store.events)

	_, err = NewAuditDenyTask(authz.DenyEvent{PrincipalID: "u1"})
	require.Error(t, err)
}

func TestHandleDenyRetriesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	job := NewAuditJob(&stubAuditStore{err: boom}, nil, nil)
	task, err := NewAuditDenyTask(authz.DenyEvent{PrincipalID: "u1", Entity: "user", Action: "delete"})
	require.NoError(t, err)

	err = job.HandleDeny(context.Background(), task)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlePruneUsesRetention(t *testing.T) {
	store := &stubAuditStore{removed: 4}
	job := NewAuditJob(store, nil, nil)
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewAuditPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, job.HandlePrune(context.Background(), task))

	require.NoError(t, job.HandlePrune(context.Background(), asynq.NewTask(TaskAuditPrune, nil)))
	require.Len(t, store.cutoffs, 2)
	assert.Equal(t, now.AddDate(0, 0, -30), store.cutoffs[0])
	assert.Equal(t, now.Add(-DefaultAuditRetention), store.cutoffs[1])
}

func TestAuditJobHandlers(t *testing.T) {
	job := NewAuditJob(&stubAuditStore{}, nil, nil)
	var types []string
	for _, h := range job.Handlers() {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}
	assert.Equal(t, []string{TaskAuditDeny, TaskAuditPrune}, types)

	var unset *AuditJob
	require.Error(t, unset.HandleDeny(context.Background(), asynq.NewTask(TaskAuditDeny, nil)))
}

func TestAuditEnqueuerRequiresClient(t *testing.T) {
	var enq *AuditEnqueuer
	require.Error(t, enq.RecordDeny(context.Background(), authz.DenyEvent{}))
	require.Error(t, NewAuditEnqueuer(nil, nil).RecordDeny(context.Background(), authz.DenyEvent{}))
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil, nil).health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []queueHealth{{Queue: QueueAudit}, {Queue: QueueDefault}}, body)
}
