package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

// ErrInvalidPermission indicates a permission with a missing field name.
var ErrInvalidPermission = errors.New("rbac: invalid permission")

// Store persists roles, their permissions and principal assignments.
//
// Reads are safe for any number of concurrent callers. Writes to one role are
// serialized, and a RoleRef carrying a stale Version fails with ErrConflict.
// System roles reject writes unless the context was prepared with Bootstrap.
type Store interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, update RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, ref RoleRef, cascade bool) ([]string, error)

	Grant(ctx context.Context, ref RoleRef, perm Permission) (Permission, error)
	Revoke(ctx context.Context, ref RoleRef, permissionID string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	AssignRole(ctx context.Context, principalID, roleID string, primary bool) error
	UnassignRole(ctx context.Context, principalID, roleID string) error
	RolesForPrincipal(ctx context.Context, principalID string) ([]Role, error)
	PrincipalsForRole(ctx context.Context, roleID string) ([]string, error)
}

type bootstrapKey struct{}

// Bootstrap marks ctx as a seed/bootstrap context, which may create and edit system roles.
func Bootstrap(ctx context.Context) context.Context {
	return context.WithValue(ctx, bootstrapKey{}, true)
}

// IsBootstrap reports whether ctx was prepared with Bootstrap.
func IsBootstrap(ctx context.Context) bool {
	v, _ := ctx.Value(bootstrapKey{}).(bool)
	return v
}

// NormalizePermission validates catalog values and canonicalizes the field name.
// Only read permissions may carry a mask other than none.
func NormalizePermission(p Permission) (Permission, error) {
	if !p.Entity.Valid() {
		return Permission{}, fmt.Errorf("%w: entity %d", catalog.ErrInvalidCatalogValue, p.Entity)
	}
	if !p.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: action %d", catalog.ErrInvalidCatalogValue, p.Action)
	}
	if !p.Mask.Valid() {
		return Permission{}, fmt.Errorf("%w: mask type %d", catalog.ErrInvalidCatalogValue, p.Mask)
	}
	if p.Mask != catalog.MaskNone && p.Action != catalog.ActionRead {
		return Permission{}, fmt.Errorf("%w: mask %s on action %s", catalog.ErrInvalidCatalogValue, p.Mask, p.Action)
	}
	p.Field = catalog.NormalizeField(p.Field)
	if p.Field == "" {
		return Permission{}, fmt.Errorf("%w: field required", ErrInvalidPermission)
	}
	if strings.Contains(p.Field, catalog.FieldWildcard) && p.Field != catalog.FieldWildcard {
		return Permission{}, fmt.Errorf("%w: field %q mixes wildcard and name", ErrInvalidPermission, p.Field)
	}
	return p, nil
}

func normalizeRoleName(name string) string {
	return strings.TrimSpace(name)
}

func roleNameKey(name string) string {
	return strings.ToLower(normalizeRoleName(name))
}

// EffectivePermissions unions the permissions of every active role assigned to the principal.
func EffectivePermissions(ctx context.Context, store Store, principalID string) ([]Permission, error) {
	roles, err := store.RolesForPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return Union(roles), nil
}

// Union merges the permissions of active roles. Inactive roles contribute nothing.
// The result is ordered by entity, action, field and mask so evaluation stays deterministic.
func Union(roles []Role) []Permission {
	var out []Permission
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		out = append(out, role.Permissions...)
	}
	sortPermissions(out)
	return out
}

func sortPermissions(perms []Permission) {
	sort.SliceStable(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Mask != b.Mask {
			return a.Mask < b.Mask
		}
		return a.ID < b.ID
	})
}
