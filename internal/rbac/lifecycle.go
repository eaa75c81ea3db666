package rbac

import (
	"context"
	"fmt"
)

// Reasons reported by CanDelete.
const (
	ReasonSystemRole        = "system roles cannot be deleted"
	ReasonActiveAssignments = "role is assigned to principals"
)

// CanDelete reports whether a role may be deleted without force. It never mutates the store.
func CanDelete(ctx context.Context, store Store, roleID string) (Deletability, error) {
	role, err := store.GetRole(ctx, roleID)
	if err != nil {
		return Deletability{}, err
	}
	principals, err := store.PrincipalsForRole(ctx, roleID)
	if err != nil {
		return Deletability{}, err
	}
	out := Deletability{OK: true, Assignments: len(principals)}
	switch {
	case role.IsSystem:
		out.OK = false
		out.Reason = ReasonSystemRole
	case len(principals) > 0:
		out.OK = false
		out.Reason = ReasonActiveAssignments
	}
	return out, nil
}

// DeleteRole removes a role. A role with assignments is refused with ErrRoleInUse
// unless force is set, in which case the store drops every assignment in the
// same write that deletes the role. System roles are never deleted, forced or
// not. A stale ref fails with ErrConflict before anything changes. It returns
// the principals whose assignments were revoked.
func DeleteRole(ctx context.Context, store Store, ref RoleRef, force bool) ([]string, error) {
	check, err := CanDelete(ctx, store, ref.ID)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		if check.Reason == ReasonSystemRole {
			return nil, ErrSystemRole
		}
		if !force {
			return nil, fmt.Errorf("%w: %d assignment(s)", ErrRoleInUse, check.Assignments)
		}
	}
	return store.DeleteRole(ctx, ref, force)
}
