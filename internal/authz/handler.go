package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Handler exposes the gateway to collaborating services.
type Handler struct {
	gateway   *Gateway
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(gateway *Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gateway: gateway, logger: logger, validator: validator.New()}
}

// MountRoutes registers the check and mask endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/mask", h.mask)
}

type checkRequest struct {
	PrincipalID string `json:"principal_id" validate:"required,max=128"`
	Entity      string `json:"entity" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Field       string `json:"field" validate:"max=128"`
}

type checkResponse struct {
	Allow bool              `json:"allow"`
	Mask  *catalog.MaskType `json:"mask_type,omitempty"`
}

type maskRequest struct {
	PrincipalID string         `json:"principal_id" validate:"required,max=128"`
	Entity      string         `json:"entity" validate:"required"`
	Record      map[string]any `json:"record" validate:"required"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.gateway.CheckAccess(r.Context(), req.PrincipalID, req.Entity, req.Action, req.Field)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := checkResponse{Allow: res.Allow}
	if res.Allow {
		mask := res.Mask
		out.Mask = &mask
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) mask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.gateway.MaskRecord(r.Context(), req.PrincipalID, req.Entity, req.Record)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"record": out})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		fields := map[string]string{}
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrInvalidCatalogValue) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Catalog Value", err.Error())
		return
	}
	h.logger.Error("authz handler", slog.Any("error", err))
	httpx.RespondError(w, err)
}
