// Package roles implements the administrative flow for roles, permissions and
// role assignments. Every operation is itself authorized by the permission
// engine against the role and permission entities.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Authorizer decides entity-level access for the acting principal. It returns
// an error wrapping authz.ErrForbidden on denial.
type Authorizer interface {
	Authorize(ctx context.Context, principalID string, entity catalog.Entity, action catalog.Action) error
}

// Invalidator drops cached permission sets after a change.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID string) error
	InvalidateRole(ctx context.Context, roleID string) error
}

// CreateRoleInput carries the attributes of a new role. Roles start active unless Active says otherwise.
type CreateRoleInput struct {
	Name        string
	Description string
	Active      *bool
}

// Service handles role administration.
type Service struct {
	store       rbac.Store
	authorizer  Authorizer
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(store rbac.Store, authorizer Authorizer, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, authorizer: authorizer, invalidator: invalidator, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context, actor string) ([]rbac.Role, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionList); err != nil {
		return nil, err
	}
	return s.store.ListRoles(ctx)
}

// GetRole returns one role with its permissions.
func (s *Service) GetRole(ctx context.Context, actor, roleID string) (rbac.Role, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionRead); err != nil {
		return rbac.Role{}, err
	}
	return s.store.GetRole(ctx, roleID)
}

// CreateRole adds a non-system role.
func (s *Service) CreateRole(ctx context.Context, actor string, in CreateRoleInput) (rbac.Role, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionCreate); err != nil {
		return rbac.Role{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	role, err := s.store.CreateRole(ctx, rbac.Role{Name: in.Name, Description: strings.TrimSpace(in.Description), IsActive: active})
	if err != nil {
		return rbac.Role{}, err
	}
	s.logger.Info("role created", slog.String("actor", actor), slog.String("role_id", role.ID), slog.String("name", role.Name))
	return role, nil
}

// UpdateRole edits role attributes. Toggling the active flag takes effect on
// the next access check of every holder.
func (s *Service) UpdateRole(ctx context.Context, actor string, update rbac.RoleUpdate) (rbac.Role, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionUpdate); err != nil {
		return rbac.Role{}, err
	}
	role, err := s.store.UpdateRole(ctx, update)
	if err != nil {
		return rbac.Role{}, err
	}
	s.invalidateRole(ctx, role.ID)
	s.logger.Info("role updated", slog.String("actor", actor), slog.String("role_id", role.ID), slog.Int64("version", role.Version))
	return role, nil
}

// SetActive enables or disables a role without touching its permissions.
func (s *Service) SetActive(ctx context.Context, actor string, ref rbac.RoleRef, active bool) (rbac.Role, error) {
	return s.UpdateRole(ctx, actor, rbac.RoleUpdate{Ref: ref, IsActive: &active})
}

// CanDelete reports whether the role could be deleted without force.
func (s *Service) CanDelete(ctx context.Context, actor, roleID string) (rbac.Deletability, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionRead); err != nil {
		return rbac.Deletability{}, err
	}
	return rbac.CanDelete(ctx, s.store, roleID)
}

// DeleteRole deletes a role. Forcing also needs role:revoke since it removes
// every assignment along with the role.
func (s *Service) DeleteRole(ctx context.Context, actor string, ref rbac.RoleRef, force bool) ([]string, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionDelete); err != nil {
		return nil, err
	}
	if force {
		if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionRevoke); err != nil {
			return nil, err
		}
	}
	revoked, err := rbac.DeleteRole(ctx, s.store, ref, force)
	if err != nil {
		return nil, err
	}
	for _, principalID := range revoked {
		s.invalidatePrincipal(ctx, principalID)
	}
	s.invalidateRole(ctx, ref.ID)
	s.logger.Info("role deleted", slog.String("actor", actor), slog.String("role_id", ref.ID), slog.Bool("force", force), slog.Int("revoked", len(revoked)))
	return revoked, nil
}

// ListPermissions returns the permissions of a role.
func (s *Service) ListPermissions(ctx context.Context, actor, roleID string) ([]rbac.Permission, error) {
	if err := s.authorize(ctx, actor, catalog.EntityPermission, catalog.ActionRead); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, roleID)
}

// Grant adds a permission to a role.
func (s *Service) Grant(ctx context.Context, actor string, ref rbac.RoleRef, perm rbac.Permission) (rbac.Permission, error) {
	if err := s.authorize(ctx, actor, catalog.EntityPermission, catalog.ActionCreate); err != nil {
		return rbac.Permission{}, err
	}
	created, err := s.store.Grant(ctx, ref, perm)
	if err != nil {
		return rbac.Permission{}, err
	}
	s.invalidateRole(ctx, ref.ID)
	s.logger.Info("permission granted",
		slog.String("actor", actor),
		slog.String("role_id", ref.ID),
		slog.String("permission", fmt.Sprintf("%s.%s:%s", created.Entity, created.Field, created.Action)),
		slog.String("mask", created.Mask.String()))
	return created, nil
}

// Revoke removes a permission from a role.
func (s *Service) Revoke(ctx context.Context, actor string, ref rbac.RoleRef, permissionID string) error {
	if err := s.authorize(ctx, actor, catalog.EntityPermission, catalog.ActionDelete); err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, ref, permissionID); err != nil {
		return err
	}
	s.invalidateRole(ctx, ref.ID)
	s.logger.Info("permission revoked", slog.String("actor", actor), slog.String("role_id", ref.ID), slog.String("permission_id", permissionID))
	return nil
}

// RolesForPrincipal lists the roles a principal holds.
func (s *Service) RolesForPrincipal(ctx context.Context, actor, principalID string) ([]rbac.Role, error) {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionRead); err != nil {
		return nil, err
	}
	return s.store.RolesForPrincipal(ctx, principalID)
}

// AssignRole gives a principal a role.
func (s *Service) AssignRole(ctx context.Context, actor, principalID, roleID string, primary bool) error {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionAssign); err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, principalID, roleID, primary); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	s.logger.Info("role assigned", slog.String("actor", actor), slog.String("principal_id", principalID), slog.String("role_id", roleID), slog.Bool("primary", primary))
	return nil
}

// UnassignRole takes a role away from a principal.
func (s *Service) UnassignRole(ctx context.Context, actor, principalID, roleID string) error {
	if err := s.authorize(ctx, actor, catalog.EntityRole, catalog.ActionRevoke); err != nil {
		return err
	}
	if err := s.store.UnassignRole(ctx, principalID, roleID); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	s.logger.Info("role unassigned", slog.String("actor", actor), slog.String("principal_id", principalID), slog.String("role_id", roleID))
	return nil
}

func (s *Service) authorize(ctx context.Context, actor string, entity catalog.Entity, action catalog.Action) error {
	if err := s.authorizer.Authorize(ctx, actor, entity, action); err != nil {
		return fmt.Errorf("%s:%s: %w", entity, action, err)
	}
	return nil
}

// Invalidation failures are logged, not returned; the store change is already committed.
func (s *Service) invalidateRole(ctx context.Context, roleID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		s.logger.Warn("invalidate role", slog.String("role_id", roleID), slog.Any("error", err))
	}
}

func (s *Service) invalidatePrincipal(ctx context.Context, principalID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidatePrincipal(ctx, principalID); err != nil {
		s.logger.Warn("invalidate principal", slog.String("principal_id", principalID), slog.Any("error", err))
	}
}
