package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

// Built-in role names.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleEditor     = "EDITOR"
	RoleViewer     = "VIEWER"
)

// SeedRole describes a role and the permissions the seed guarantees it holds.
type SeedRole struct {
	Name        string
	Description string
	System      bool
	Permissions []Permission
}

// SeedReport summarises a seed run.
type SeedReport struct {
	RolesCreated       int
	PermissionsCreated int
	PermissionsTotal   int
}

// Seed loads the built-in roles. Running it again creates nothing new.
func Seed(ctx context.Context, store Store) (SeedReport, error) {
	return SeedRoles(ctx, store, DefaultSeed())
}

// SeedRoles ensures every role exists and holds its permissions. Existing grants
// are left as they are, so the operation is idempotent.
func SeedRoles(ctx context.Context, store Store, roles []SeedRole) (SeedReport, error) {
	ctx = Bootstrap(ctx)
	var report SeedReport
	for _, sr := range roles {
		role, err := store.FindRoleByName(ctx, sr.Name)
		if errors.Is(err, ErrNotFound) {
			role, err = store.CreateRole(ctx, Role{
				Name:        sr.Name,
				Description: sr.Description,
				IsSystem:    sr.System,
				IsActive:    true,
			})
			if err == nil {
				report.RolesCreated++
			}
		}
		if err != nil {
			return report, fmt.Errorf("rbac: seed role %s: %w", sr.Name, err)
		}
		for _, perm := range sr.Permissions {
			if _, err := store.Grant(ctx, RoleRef{ID: role.ID}, perm); err != nil {
				if errors.Is(err, ErrDuplicatePermission) {
					continue
				}
				return report, fmt.Errorf("rbac: seed %s %s.%s:%s: %w", sr.Name, perm.Entity, perm.Field, perm.Action, err)
			}
			report.PermissionsCreated++
		}
		perms, err := store.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return report, err
		}
		report.PermissionsTotal += len(perms)
	}
	return report, nil
}

// DefaultSeed returns the built-in catalog roles. SUPER_ADMIN holds every
// entity × action pair; the other roles add masked variants for the sensitive
// fields of every entity they can read.
func DefaultSeed() []SeedRole {
	content := []catalog.Entity{
		catalog.EntityBlog, catalog.EntityCategory, catalog.EntityComment,
		catalog.EntityMedia, catalog.EntityPage,
	}

	var super []Permission
	for _, e := range catalog.Entities() {
		super = append(super, wildcards(e, catalog.BaseActions()...)...)
		super = append(super, wildcards(e, catalog.SpecialActions()...)...)
	}

	var admin []Permission
	adminSpecial := []catalog.Action{
		catalog.ActionExport, catalog.ActionImport, catalog.ActionApprove, catalog.ActionReject,
		catalog.ActionPublish, catalog.ActionArchive, catalog.ActionAssign, catalog.ActionRevoke,
		catalog.ActionBan, catalog.ActionUnban,
	}
	for _, e := range catalog.Entities() {
		if e == catalog.EntitySystem {
			admin = append(admin, wildcards(e, catalog.ActionRead, catalog.ActionMonitor)...)
			continue
		}
		admin = append(admin, wildcards(e, catalog.BaseActions()...)...)
		admin = append(admin, wildcards(e, adminSpecial...)...)
	}
	admin = append(admin, sensitiveReads(admin, catalog.MaskHidden)...)

	var editor []Permission
	for _, e := range content {
		editor = append(editor, wildcards(e,
			catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate, catalog.ActionList,
			catalog.ActionPublish, catalog.ActionArchive, catalog.ActionComment,
		)...)
	}
	editor = append(editor, wildcards(catalog.EntityUser, catalog.ActionRead, catalog.ActionList)...)
	editor = append(editor, sensitiveReads(editor, catalog.MaskNone)...)

	var viewer []Permission
	for _, e := range append(content, catalog.EntityReport) {
		viewer = append(viewer, wildcards(e, catalog.ActionRead, catalog.ActionList)...)
	}
	viewer = append(viewer, sensitiveReads(viewer, catalog.MaskNone)...)

	return []SeedRole{
		{Name: RoleSuperAdmin, Description: "Unrestricted access to every entity", System: true, Permissions: super},
		{Name: RoleAdmin, Description: "Administers content, users and finance", Permissions: admin},
		{Name: RoleEditor, Description: "Creates and publishes content", Permissions: editor},
		{Name: RoleViewer, Description: "Reads published content and reports", Permissions: viewer},
	}
}

func wildcards(entity catalog.Entity, actions ...catalog.Action) []Permission {
	out := make([]Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, Permission{Entity: entity, Field: catalog.FieldWildcard, Action: a, Mask: catalog.MaskNone})
	}
	return out
}

// sensitiveReads returns masked read grants for sensitive fields of entities the
// given set can read. Fields whose default mask is below floor are skipped, so
// privileged roles only keep the strictest masks.
func sensitiveReads(granted []Permission, floor catalog.MaskType) []Permission {
	readable := make(map[catalog.Entity]bool)
	for _, p := range granted {
		if p.Action == catalog.ActionRead && p.IsWildcard() {
			readable[p.Entity] = true
		}
	}
	var out []Permission
	for _, sf := range catalog.SensitiveFields() {
		if !readable[sf.Entity] || sf.Mask < floor {
			continue
		}
		out = append(out, Permission{Entity: sf.Entity, Field: sf.Field, Action: catalog.ActionRead, Mask: sf.Mask})
	}
	return out
}
