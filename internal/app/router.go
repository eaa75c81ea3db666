package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Gateway      *authz.Gateway
	Principal    authz.PrincipalFunc
	AuthzHandler *authz.Handler
	RolesHandler *roles.Handler
	AuditHandler *audit.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	Readiness    map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(params.Readiness))

	var guard authz.Middleware
	if params.Gateway != nil {
		guard = authz.Middleware{Gateway: params.Gateway, Principal: params.Principal, Logger: params.Logger}
	}

	// Decision lookups about arbitrary principals are reserved for calling
	// services whose own principal holds system:execute.
	if params.AuthzHandler != nil && params.Gateway != nil {
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(catalog.EntitySystem, catalog.ActionExecute))
			r.Route("/authz", params.AuthzHandler.MountRoutes)
		})
	}
	r.Route("/admin", func(r chi.Router) {
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r)
		}
		if params.Gateway == nil {
			return
		}
		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(guard.Require(catalog.EntityAuditLog, catalog.ActionList))
				r.Route("/audit", params.AuditHandler.MountRoutes)
			})
		}
		if params.JobHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(guard.Require(catalog.EntitySystem, catalog.ActionMonitor))
				r.Route("/jobs", params.JobHandler.MountRoutes)
			})
		}
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func readyHandler(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
