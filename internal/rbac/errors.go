package rbac

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicatePermission indicates the role already holds the same (entity, field, action).
	ErrDuplicatePermission = errors.New("rbac: duplicate permission")
	// ErrConflict indicates a concurrent edit changed the role since it was read.
	ErrConflict = errors.New("rbac: role version conflict")
	// ErrSystemRole indicates an attempt to edit or delete a system role.
	ErrSystemRole = errors.New("rbac: system role is immutable")
	// ErrRoleInUse indicates a role still has active assignments.
	ErrRoleInUse = errors.New("rbac: role has active assignments")
	// ErrTooManyRoles indicates the principal already holds MaxRolesPerUser roles.
	ErrTooManyRoles = errors.New("rbac: too many roles for principal")
	// ErrDuplicateRole indicates a role with the same name exists.
	ErrDuplicateRole = errors.New("rbac: duplicate role name")
	// ErrInvalidRole indicates missing or malformed role attributes.
	ErrInvalidRole = errors.New("rbac: invalid role")
)
