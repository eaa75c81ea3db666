package rbac

import (
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

// MaxRolesPerUser bounds the primary plus secondary roles a principal may hold.
const MaxRolesPerUser = 5

// Permission grants one action on one field (or every field) of an entity.
type Permission struct {
	ID        string           `json:"id"`
	RoleID    string           `json:"role_id"`
	Entity    catalog.Entity   `json:"entity"`
	Field     string           `json:"field"`
	Action    catalog.Action   `json:"action"`
	Mask      catalog.MaskType `json:"mask"`
	CreatedAt time.Time        `json:"created_at"`
}

// Triple identifies a permission inside a role. Two permissions of one role never share a triple.
type Triple struct {
	Entity catalog.Entity
	Field  string
	Action catalog.Action
}

// Triple returns the (entity, field, action) key of p.
func (p Permission) Triple() Triple {
	return Triple{Entity: p.Entity, Field: p.Field, Action: p.Action}
}

// IsWildcard reports whether p applies to every field of its entity.
func (p Permission) IsWildcard() bool {
	return p.Field == catalog.FieldWildcard
}

// Role is a named, reusable bundle of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	IsSystem    bool         `json:"is_system"`
	IsActive    bool         `json:"is_active"`
	Version     int64        `json:"version"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RoleRef addresses a role for a write. A non-zero Version must match the
// stored version or the write fails with ErrConflict.
type RoleRef struct {
	ID      string
	Version int64
}

// Ref returns a reference pinned to the role's current version.
func (r Role) Ref() RoleRef {
	return RoleRef{ID: r.ID, Version: r.Version}
}

// RoleUpdate carries editable role attributes. Nil fields are left unchanged.
type RoleUpdate struct {
	Ref         RoleRef
	Name        *string
	Description *string
	IsActive    *bool
}

// Assignment links a principal to a role.
type Assignment struct {
	PrincipalID string    `json:"principal_id"`
	RoleID      string    `json:"role_id"`
	Primary     bool      `json:"primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is the authenticated actor together with its assigned roles.
type Principal struct {
	ID               string
	PrimaryRoleID    string
	SecondaryRoleIDs []string
}

// RoleIDs returns the primary role followed by secondary roles, without duplicates.
func (p Principal) RoleIDs() []string {
	seen := make(map[string]struct{}, len(p.SecondaryRoleIDs)+1)
	ids := make([]string, 0, len(p.SecondaryRoleIDs)+1)
	for _, id := range append([]string{p.PrimaryRoleID}, p.SecondaryRoleIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Deletability is the outcome of CanDelete.
type Deletability struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason,omitempty"`
	Assignments int    `json:"assignments"`
}
