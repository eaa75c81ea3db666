// Package authz is the request-time entry point of the permission engine. The
// Gateway resolves a principal's effective permissions, evaluates them and
// audits denials. It is the only part of the engine that performs I/O.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/masking"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// ErrForbidden is the caller-facing form of a Deny.
var ErrForbidden = errors.New("authz: forbidden")

// DefaultLookupTimeout bounds the role lookup when no timeout is configured.
const DefaultLookupTimeout = 2 * time.Second

// Deny reasons added by the gateway.
const (
	ReasonNoPrincipal   = "no principal"
	ReasonLookupTimeout = "permission lookup timed out"
	ReasonLookupFailed  = "permission lookup failed"
	ReasonFieldsDropped = "no read grant for fields"
)

// Result is the outcome of CheckAccess.
type Result struct {
	Allow        bool             `json:"allow"`
	Mask         catalog.MaskType `json:"mask_type"`
	Reason       string           `json:"reason,omitempty"`
	PermissionID string           `json:"-"`
}

// Err returns ErrForbidden for a denied result and nil otherwise.
func (r Result) Err() error {
	if r.Allow {
		return nil
	}
	return ErrForbidden
}

// Gateway answers access checks for principals.
type Gateway struct {
	store       rbac.Store
	cache       *PermissionCache
	broadcaster Broadcaster
	auditor     DenyAuditor
	metrics     *Metrics
	logger      *slog.Logger
	timeout     time.Duration
	now         func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache sets the permission cache. Without it every check reads the store.
func WithCache(cache *PermissionCache) Option {
	return func(g *Gateway) { g.cache = cache }
}

// WithBroadcaster publishes invalidations to other processes.
func WithBroadcaster(b Broadcaster) Option {
	return func(g *Gateway) { g.broadcaster = b }
}

// WithAuditor sets the deny auditor.
func WithAuditor(a DenyAuditor) Option {
	return func(g *Gateway) { g.auditor = a }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithLookupTimeout bounds role lookups. A non-positive value keeps the default.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGateway constructs a gateway over store.
func NewGateway(store rbac.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:   store,
		logger:  slog.Default(),
		timeout: DefaultLookupTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.auditor == nil {
		g.auditor = LogAuditor{Logger: g.logger}
	}
	if g.cache != nil {
		g.cache.SetLoadTimeout(g.timeout)
	}
	return g
}

// CheckAccess validates the catalog names and decides whether the principal may
// perform action on entity, optionally narrowed to field. Invalid names return
// an error wrapping catalog.ErrInvalidCatalogValue. Lookup failures and
// timeouts deny.
func (g *Gateway) CheckAccess(ctx context.Context, principalID, entity, action, field string) (Result, error) {
	e, err := catalog.ParseEntity(entity)
	if err != nil {
		return Result{}, err
	}
	a, err := catalog.ParseAction(action)
	if err != nil {
		return Result{}, err
	}
	return g.Check(ctx, principalID, e, a, field)
}

// Check is CheckAccess for already parsed catalog values.
func (g *Gateway) Check(ctx context.Context, principalID string, entity catalog.Entity, action catalog.Action, field string) (Result, error) {
	if !entity.Valid() || !action.Valid() {
		_, err := rbac.Authorize(nil, entity, action, field)
		return Result{}, err
	}
	if principalID == "" {
		return g.deny(ctx, principalID, entity, action, field, ReasonNoPrincipal, outcomeDeny), nil
	}

	perms, err := g.permissions(ctx, principalID)
	if err != nil {
		reason, outcome := lookupFailure(err)
		g.logger.Warn("authz lookup failed",
			slog.String("principal_id", principalID),
			slog.String("entity", entity.String()),
			slog.String("action", action.String()),
			slog.Any("error", err))
		return g.deny(ctx, principalID, entity, action, field, reason, outcome), nil
	}

	decision, err := rbac.Authorize(perms, entity, action, field)
	if err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		return g.deny(ctx, principalID, entity, action, field, decision.Reason, outcomeDeny), nil
	}
	g.metrics.recordDecision(entity.String(), action.String(), outcomeAllow)
	return Result{Allow: true, Mask: decision.Mask, PermissionID: decision.PermissionID}, nil
}

// Authorize returns nil when the principal holds an entity-level grant for
// action, ErrForbidden when denied, and an error for catalog violations.
func (g *Gateway) Authorize(ctx context.Context, principalID string, entity catalog.Entity, action catalog.Action) error {
	res, err := g.Check(ctx, principalID, entity, action, "")
	if err != nil {
		return err
	}
	return res.Err()
}

// MaskRecord returns the fields of record the principal may read, each masked
// per its decision. Fields without a read grant are dropped and reported in a
// single deny event listing them. When the permission lookup fails the result
// is empty and the failure is audited like any other deny.
func (g *Gateway) MaskRecord(ctx context.Context, principalID, entity string, record map[string]any) (map[string]any, error) {
	e, err := catalog.ParseEntity(entity)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		g.deny(ctx, principalID, e, catalog.ActionRead, "", ReasonNoPrincipal, outcomeDeny)
		return map[string]any{}, nil
	}
	perms, err := g.permissions(ctx, principalID)
	if err != nil {
		reason, outcome := lookupFailure(err)
		g.logger.Warn("authz mask record lookup failed", slog.String("principal_id", principalID), slog.Any("error", err))
		g.deny(ctx, principalID, e, catalog.ActionRead, "", reason, outcome)
		return map[string]any{}, nil
	}
	var dropped []string
	out := masking.MaskRecord(e, record, func(field string) masking.Decision {
		d, err := rbac.Authorize(perms, e, catalog.ActionRead, field)
		if err != nil || !d.Allowed {
			dropped = append(dropped, catalog.NormalizeField(field))
			return masking.Decision{}
		}
		return masking.Decision{Allowed: true, Mask: d.Mask}
	})
	if len(dropped) > 0 {
		sort.Strings(dropped)
		g.deny(ctx, principalID, e, catalog.ActionRead, strings.Join(dropped, ","), ReasonFieldsDropped, outcomeDeny)
	}
	return out, nil
}

// InvalidatePrincipal drops the principal's cached permissions here and, when
// a broadcaster is configured, in every other process.
func (g *Gateway) InvalidatePrincipal(ctx context.Context, principalID string) error {
	if g.cache != nil {
		g.cache.InvalidatePrincipal(principalID)
	}
	return g.publish(ctx, InvalidationEvent{Scope: ScopePrincipal, ID: principalID})
}

// InvalidateRole drops cached permissions of every holder of the role.
func (g *Gateway) InvalidateRole(ctx context.Context, roleID string) error {
	if g.cache != nil {
		g.cache.InvalidateRole(roleID)
	}
	return g.publish(ctx, InvalidationEvent{Scope: ScopeRole, ID: roleID})
}

// InvalidateAll empties the permission cache.
func (g *Gateway) InvalidateAll(ctx context.Context) error {
	if g.cache != nil {
		g.cache.InvalidateAll()
	}
	return g.publish(ctx, InvalidationEvent{Scope: ScopeAll})
}

func (g *Gateway) publish(ctx context.Context, event InvalidationEvent) error {
	if g.broadcaster == nil {
		return nil
	}
	return g.broadcaster.Publish(ctx, event)
}

func (g *Gateway) permissions(ctx context.Context, principalID string) ([]rbac.Permission, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.cache == nil {
		started := time.Now()
		roles, err := g.store.RolesForPrincipal(lookupCtx, principalID)
		g.metrics.observeLookup(time.Since(started))
		if err != nil {
			return nil, timeoutCause(lookupCtx, err)
		}
		return rbac.Union(roles), nil
	}

	perms, hit, err := g.cache.Load(lookupCtx, principalID, func(ctx context.Context, id string) ([]rbac.Role, error) {
		started := time.Now()
		roles, err := g.store.RolesForPrincipal(ctx, id)
		g.metrics.observeLookup(time.Since(started))
		return roles, err
	})
	if err != nil {
		return nil, timeoutCause(lookupCtx, err)
	}
	g.metrics.recordCache(hit)
	return perms, nil
}

func lookupFailure(err error) (reason, outcome string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonLookupTimeout, outcomeTimeout
	}
	return ReasonLookupFailed, outcomeError
}

// timeoutCause makes a deadline on ctx visible even when the store wrapped or replaced the context error.
func timeoutCause(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (g *Gateway) deny(ctx context.Context, principalID string, entity catalog.Entity, action catalog.Action, field, reason, outcome string) Result {
	g.metrics.recordDecision(entity.String(), action.String(), outcome)
	event := DenyEvent{
		PrincipalID: principalID,
		Entity:      entity.String(),
		Action:      action.String(),
		Field:       catalog.NormalizeField(field),
		Reason:      reason,
		OccurredAt:  g.now(),
	}
	// The audit write outlives a cancelled request but never the lookup budget.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	if err := g.auditor.RecordDeny(auditCtx, event); err != nil {
		g.logger.Error("authz audit deny", slog.Any("error", err))
	}
	return Result{Reason: reason}
}
