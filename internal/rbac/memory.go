package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Role state is published as immutable
// snapshots, so readers never block on writers; writers of one role queue on
// that role's mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]*roleEntry
	names       map[string]string
	assignments map[string][]Assignment

	now   func() time.Time
	newID func() string
}

type roleEntry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Role]
	// deleted is set under mu once the role leaves the store; writers that
	// looked the entry up earlier must not resurrect it.
	deleted bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]*roleEntry),
		names:       make(map[string]string),
		assignments: make(map[string][]Assignment),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// CreateRole inserts a new role. Permissions on the input are ignored; use Grant.
func (s *MemoryStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = normalizeRoleName(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: name required", ErrInvalidRole)
	}
	if role.IsSystem && !IsBootstrap(ctx) {
		return Role{}, ErrSystemRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleNameKey(role.Name)
	if _, exists := s.names[key]; exists {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRole, role.Name)
	}
	now := s.now()
	role.ID = s.newID()
	role.Version = 1
	role.Permissions = nil
	role.CreatedAt = now
	role.UpdatedAt = now
	entry := &roleEntry{}
	entry.snap.Store(&role)
	s.roles[role.ID] = entry
	s.names[key] = role.ID
	return cloneRole(&role), nil
}

// GetRole returns a role together with its permissions.
func (s *MemoryStore) GetRole(ctx context.Context, id string) (Role, error) {
	entry, err := s.entry(id)
	if err != nil {
		return Role{}, err
	}
	return cloneRole(entry.snap.Load()), nil
}

// FindRoleByName looks a role up by case-insensitive name.
func (s *MemoryStore) FindRoleByName(ctx context.Context, name string) (Role, error) {
	s.mu.RLock()
	id, ok := s.names[roleNameKey(name)]
	s.mu.RUnlock()
	if !ok {
		return Role{}, ErrNotFound
	}
	return s.GetRole(ctx, id)
}

// ListRoles returns all roles ordered by name.
func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	roles := make([]Role, 0, len(s.roles))
	for _, entry := range s.roles {
		roles = append(roles, cloneRole(entry.snap.Load()))
	}
	s.mu.RUnlock()
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// UpdateRole edits name, description or the active flag of a role.
func (s *MemoryStore) UpdateRole(ctx context.Context, update RoleUpdate) (Role, error) {
	var renamed *string
	if update.Name != nil {
		name := normalizeRoleName(*update.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: name required", ErrInvalidRole)
		}
		renamed = &name
	}
	return s.mutate(ctx, update.Ref, func(role *Role) error {
		if renamed != nil && roleNameKey(*renamed) != roleNameKey(role.Name) {
			if err := s.rename(role.ID, role.Name, *renamed); err != nil {
				return err
			}
			role.Name = *renamed
		}
		if update.Description != nil {
			role.Description = *update.Description
		}
		if update.IsActive != nil {
			role.IsActive = *update.IsActive
		}
		return nil
	})
}

func (s *MemoryStore) rename(id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleNameKey(to)
	if owner, exists := s.names[key]; exists && owner != id {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, to)
	}
	delete(s.names, roleNameKey(from))
	s.names[key] = id
	return nil
}

// DeleteRole removes a role and its permissions. Roles that are still assigned
// fail with ErrRoleInUse unless cascade is set, in which case the assignments
// are dropped under the same lock and the affected principals are returned.
func (s *MemoryStore) DeleteRole(ctx context.Context, ref RoleRef, cascade bool) ([]string, error) {
	entry, err := s.entry(ref.ID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return nil, ErrNotFound
	}
	cur := entry.snap.Load()
	if cur.IsSystem && !IsBootstrap(ctx) {
		return nil, ErrSystemRole
	}
	if ref.Version != 0 && ref.Version != cur.Version {
		return nil, ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	holders := s.holdersLocked(ref.ID)
	if len(holders) > 0 && !cascade {
		return nil, fmt.Errorf("%w: %d assignment(s)", ErrRoleInUse, len(holders))
	}
	for _, principalID := range holders {
		s.unassignLocked(principalID, ref.ID)
	}
	entry.deleted = true
	delete(s.roles, ref.ID)
	delete(s.names, roleNameKey(cur.Name))
	return holders, nil
}

// Grant adds a permission to a role.
func (s *MemoryStore) Grant(ctx context.Context, ref RoleRef, perm Permission) (Permission, error) {
	perm, err := NormalizePermission(perm)
	if err != nil {
		return Permission{}, err
	}
	var out Permission
	_, err = s.mutate(ctx, ref, func(role *Role) error {
		triple := perm.Triple()
		for _, existing := range role.Permissions {
			if existing.Triple() == triple {
				return fmt.Errorf("%w: %s.%s:%s", ErrDuplicatePermission, perm.Entity, perm.Field, perm.Action)
			}
		}
		perm.ID = s.newID()
		perm.RoleID = role.ID
		perm.CreatedAt = s.now()
		role.Permissions = append(role.Permissions, perm)
		out = perm
		return nil
	})
	return out, err
}

// Revoke removes a permission from a role.
func (s *MemoryStore) Revoke(ctx context.Context, ref RoleRef, permissionID string) error {
	_, err := s.mutate(ctx, ref, func(role *Role) error {
		for i, p := range role.Permissions {
			if p.ID == permissionID {
				role.Permissions = append(role.Permissions[:i:i], role.Permissions[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	return err
}

// PermissionsForRole returns a copy of the role's permissions.
func (s *MemoryStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

// AssignRole links a principal to a role. Assigning a new primary role demotes
// the previous primary to a secondary role. Re-assigning is a no-op apart from
// the primary flag.
func (s *MemoryStore) AssignRole(ctx context.Context, principalID, roleID string, primary bool) error {
	if principalID == "" {
		return fmt.Errorf("%w: principal required", ErrInvalidRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	current := s.assignments[principalID]
	idx := -1
	for i, a := range current {
		if a.RoleID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 && len(current) >= MaxRolesPerUser {
		return ErrTooManyRoles
	}
	if primary {
		for i := range current {
			current[i].Primary = false
		}
	}
	if idx >= 0 {
		if primary {
			current[idx].Primary = true
		}
		s.assignments[principalID] = current
		return nil
	}
	if !primary && len(current) == 0 {
		primary = true
	}
	s.assignments[principalID] = append(current, Assignment{
		PrincipalID: principalID,
		RoleID:      roleID,
		Primary:     primary,
		CreatedAt:   s.now(),
	})
	return nil
}

// UnassignRole removes a role from a principal.
func (s *MemoryStore) UnassignRole(ctx context.Context, principalID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unassignLocked(principalID, roleID) {
		return ErrNotFound
	}
	return nil
}

// unassignLocked drops one assignment, promoting the next role when the
// primary goes. Callers hold s.mu.
func (s *MemoryStore) unassignLocked(principalID, roleID string) bool {
	current := s.assignments[principalID]
	for i, a := range current {
		if a.RoleID != roleID {
			continue
		}
		rest := append(current[:i:i], current[i+1:]...)
		if a.Primary && len(rest) > 0 {
			rest[0].Primary = true
		}
		if len(rest) == 0 {
			delete(s.assignments, principalID)
		} else {
			s.assignments[principalID] = rest
		}
		return true
	}
	return false
}

// RolesForPrincipal returns the principal's roles, primary first, including inactive ones.
func (s *MemoryStore) RolesForPrincipal(ctx context.Context, principalID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assigned := s.assignments[principalID]
	roles := make([]Role, 0, len(assigned))
	for _, a := range orderAssignments(assigned) {
		entry, ok := s.roles[a.RoleID]
		if !ok {
			continue
		}
		roles = append(roles, cloneRole(entry.snap.Load()))
	}
	return roles, nil
}

// PrincipalsForRole lists principals holding the role, sorted.
func (s *MemoryStore) PrincipalsForRole(ctx context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	return s.holdersLocked(roleID), nil
}

func (s *MemoryStore) entry(id string) (*roleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) holdersLocked(roleID string) []string {
	var ids []string
	for principalID, assigned := range s.assignments {
		for _, a := range assigned {
			if a.RoleID == roleID {
				ids = append(ids, principalID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// mutate applies fn to a private copy of the role and publishes it with a bumped version.
func (s *MemoryStore) mutate(ctx context.Context, ref RoleRef, fn func(*Role) error) (Role, error) {
	entry, err := s.entry(ref.ID)
	if err != nil {
		return Role{}, err
	}
	return s.mutateEntry(ctx, entry, ref, fn)
}

func (s *MemoryStore) mutateEntry(ctx context.Context, entry *roleEntry, ref RoleRef, fn func(*Role) error) (Role, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return Role{}, ErrNotFound
	}
	cur := entry.snap.Load()
	if cur.IsSystem && !IsBootstrap(ctx) {
		return Role{}, ErrSystemRole
	}
	if ref.Version != 0 && ref.Version != cur.Version {
		return Role{}, ErrConflict
	}
	next := cloneRole(cur)
	if err := fn(&next); err != nil {
		return Role{}, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	entry.snap.Store(&next)
	return cloneRole(&next), nil
}

func orderAssignments(in []Assignment) []Assignment {
	out := make([]Assignment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Primary && !out[j].Primary })
	return out
}

func cloneRole(r *Role) Role {
	out := *r
	if r.Permissions != nil {
		out.Permissions = make([]Permission, len(r.Permissions))
		copy(out.Permissions, r.Permissions)
	}
	return out
}
