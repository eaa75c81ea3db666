package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Lister reads stored denials.
type Lister interface {
	List(ctx context.Context, principalID string, limit int) ([]Entry, error)
}

// Handler serves the deny log. Access control is applied by the router.
type Handler struct {
	lister Lister
	logger *slog.Logger
}

// NewHandler constructs the audit handler.
func NewHandler(lister Lister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{lister: lister, logger: logger}
}

// MountRoutes registers the audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/denials", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.ValidationProblem(w, map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.lister.List(r.Context(), q.Get("principal_id"), limit)
	if err != nil {
		h.logger.Error("list denials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}
