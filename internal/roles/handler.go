package roles

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Handler exposes role administration as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	principal authz.PrincipalFunc
	validator *validator.Validate
}

// NewHandler builds Handler instance. A nil principal func reads authz.PrincipalHeader.
func NewHandler(logger *slog.Logger, service *Service, principal authz.PrincipalFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if principal == nil {
		principal = authz.DefaultPrincipal
	}
	return &Handler{logger: logger, service: service, principal: principal, validator: newValidator()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/catalog", h.catalog)
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Route("/{roleID}", func(r chi.Router) {
			r.Get("/", h.getRole)
			r.Patch("/", h.updateRole)
			r.Delete("/", h.deleteRole)
			r.Post("/activate", h.setActive(true))
			r.Post("/deactivate", h.setActive(false))
			r.Get("/can-delete", h.canDelete)
			r.Get("/permissions", h.listPermissions)
			r.Post("/permissions", h.grant)
			r.Delete("/permissions/{permissionID}", h.revoke)
		})
	})
	r.Route("/principals/{principalID}/roles", func(r chi.Router) {
		r.Get("/", h.principalRoles)
		r.Put("/{roleID}", h.assign)
		r.Delete("/{roleID}", h.unassign)
	})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
	Active      *bool  `json:"active"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	Active      *bool   `json:"active"`
}

type grantRequest struct {
	Entity string `json:"entity" validate:"required,entity"`
	Field  string `json:"field" validate:"required,max=128"`
	Action string `json:"action" validate:"required,action"`
	Mask   string `json:"mask_type" validate:"omitempty,mask"`
}

// permission resolves the catalog names, keyed by field on failure the same
// way ValidationProblem reports them.
func (req grantRequest) permission() (rbac.Permission, map[string]string) {
	fields := map[string]string{}
	entity, err := catalog.ParseEntity(req.Entity)
	if err != nil {
		fields["Entity"] = "entity"
	}
	action, err := catalog.ParseAction(req.Action)
	if err != nil {
		fields["Action"] = "action"
	}
	mask, err := catalog.ParseMaskType(req.Mask)
	if err != nil {
		fields["Mask"] = "mask"
	}
	return rbac.Permission{Entity: entity, Field: req.Field, Action: action, Mask: mask}, fields
}

type assignRequest struct {
	Primary bool `json:"primary"`
}

type catalogResponse struct {
	Version  string                   `json:"version"`
	Entities []catalog.Entity         `json:"entities"`
	Actions  []catalog.Action         `json:"actions"`
	Masks    []catalog.MaskType       `json:"mask_types"`
	Fields   []catalog.SensitiveField `json:"sensitive_fields"`
}

type deleteResponse struct {
	Revoked []string `json:"revoked_principals"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entity", func(fl validator.FieldLevel) bool { return catalog.IsValidEntity(fl.Field().String()) })
	_ = v.RegisterValidation("action", func(fl validator.FieldLevel) bool { return catalog.IsValidAction(fl.Field().String()) })
	_ = v.RegisterValidation("mask", func(fl validator.FieldLevel) bool { return catalog.IsValidMaskType(fl.Field().String()) })
	return v
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, catalogResponse{
		Version:  catalog.Version,
		Entities: catalog.Entities(),
		Actions:  catalog.Actions(),
		Masks:    catalog.MaskTypes(),
		Fields:   catalog.SensitiveFields(),
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roles, err := h.service.ListRoles(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), actor, CreateRoleInput{Name: req.Name, Description: req.Description, Active: req.Active})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRole(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), actor, chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRole(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ref, ok := h.roleRef(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actor, rbac.RoleUpdate{Ref: ref, Name: req.Name, Description: req.Description, IsActive: req.Active})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRole(w, http.StatusOK, role)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		ref, ok := h.roleRef(w, r)
		if !ok {
			return
		}
		role, err := h.service.SetActive(r.Context(), actor, ref, active)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeRole(w, http.StatusOK, role)
	}
}

func (h *Handler) canDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	check, err := h.service.CanDelete(r.Context(), actor, chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ref, ok := h.roleRef(w, r)
	if !ok {
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			httpx.ValidationProblem(w, map[string]string{"force": "must be a boolean"})
			return
		}
	}
	revoked, err := h.service.DeleteRole(r.Context(), actor, ref, force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if revoked == nil {
		revoked = []string{}
	}
	httpx.JSON(w, http.StatusOK, deleteResponse{Revoked: revoked})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	perms, err := h.service.ListPermissions(r.Context(), actor, chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ref, ok := h.roleRef(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	want, fields := req.permission()
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	perm, err := h.service.Grant(r.Context(), actor, ref, want)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	ref, ok := h.roleRef(w, r)
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), actor, ref, chi.URLParam(r, "permissionID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) principalRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roles, err := h.service.RolesForPrincipal(r.Context(), actor, chi.URLParam(r, "principalID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	err := h.service.AssignRole(r.Context(), actor, chi.URLParam(r, "principalID"), chi.URLParam(r, "roleID"), req.Primary)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.UnassignRole(r.Context(), actor, chi.URLParam(r, "principalID"), chi.URLParam(r, "roleID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := h.principal(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return "", false
	}
	return id, true
}

// roleRef reads the role ID from the path and an optional version from If-Match.
func (h *Handler) roleRef(w http.ResponseWriter, r *http.Request) (rbac.RoleRef, bool) {
	ref := rbac.RoleRef{ID: chi.URLParam(r, "roleID")}
	raw := strings.Trim(strings.TrimPrefix(strings.TrimSpace(r.Header.Get("If-Match")), "W/"), `"`)
	if raw == "" || raw == "*" {
		return ref, true
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version <= 0 {
		httpx.ValidationProblem(w, map[string]string{"If-Match": "must be a role version"})
		return rbac.RoleRef{}, false
	}
	ref.Version = version
	return ref, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) writeRole(w http.ResponseWriter, status int, role rbac.Role) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(role.Version, 10)))
	httpx.JSON(w, status, role)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := mapError(err)
	if errors.Is(mapped, errInternal) {
		h.logger.Error("roles handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

var errInternal = errors.New("internal")

// mapError translates engine and store errors into httpx sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, rbac.ErrSystemRole):
		return httpx.ErrForbidden
	case errors.Is(err, rbac.ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, rbac.ErrDuplicatePermission), errors.Is(err, rbac.ErrDuplicateRole):
		return fmt.Errorf("%w: %v", httpx.ErrDuplicate, err)
	case errors.Is(err, rbac.ErrConflict), errors.Is(err, rbac.ErrRoleInUse), errors.Is(err, rbac.ErrTooManyRoles):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, catalog.ErrInvalidCatalogValue), errors.Is(err, rbac.ErrInvalidPermission), errors.Is(err, rbac.ErrInvalidRole):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %v", errInternal, err)
	}
}
