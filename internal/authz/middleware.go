package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// PrincipalHeader is read by DefaultPrincipal. The identity layer in front of
// this service sets it after authenticating the caller.
const PrincipalHeader = "X-Principal-ID"

// PrincipalFunc extracts the authenticated principal from a request.
type PrincipalFunc func(r *http.Request) (string, bool)

// DefaultPrincipal reads PrincipalHeader.
func DefaultPrincipal(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	return id, id != ""
}

// Middleware wires gateway checks into HTTP handlers.
type Middleware struct {
	Gateway   *Gateway
	Principal PrincipalFunc
	Logger    *slog.Logger
}

type ctxKey int

const (
	resultKey ctxKey = iota
	principalKey
)

// ResultFromContext returns the Result stored by Require.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey).(Result)
	return res, ok
}

// PrincipalFromContext returns the principal resolved by Require.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(principalKey).(string)
	return id
}

// WithPrincipal stores a principal ID on ctx.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalKey, principalID)
}

// Require lets the request through only when the principal holds an
// entity-level grant for action. Denials answer 403 without detail.
func (m Middleware) Require(entity catalog.Entity, action catalog.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := m.principal(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			res, err := m.Gateway.Check(r.Context(), principalID, entity, action, "")
			if err != nil {
				if errors.Is(err, catalog.ErrInvalidCatalogValue) {
					m.logger().Error("authz require misconfigured", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !res.Allow {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			ctx := WithPrincipal(r.Context(), principalID)
			ctx = context.WithValue(ctx, resultKey, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m Middleware) principal(r *http.Request) (string, bool) {
	fn := m.Principal
	if fn == nil {
		fn = DefaultPrincipal
	}
	return fn(r)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
