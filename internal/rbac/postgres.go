package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	constraintRoleName       = "authz_roles_name_key"
	constraintPermissionKey  = "authz_permissions_triple_key"
	roleColumns              = "id, name, description, is_system, is_active, version, created_at, updated_at"
	permissionColumns        = "id, role_id, entity, field, action, mask, created_at"
	principalAdvisoryLockSQL = "SELECT pg_advisory_xact_lock(hashtext($1))"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type pool interface {
	dbtx
	db.TxStarter
}

// PostgresStore persists roles in PostgreSQL. Role writes lock the role row and
// compare versions inside a RepeatableRead transaction.
type PostgresStore struct {
	pool pool
}

// NewPostgresStore constructs a PostgresStore backed by the provided pool.
func NewPostgresStore(p *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: p}
}

// CreateRole inserts a new role.
func (s *PostgresStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = normalizeRoleName(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: name required", ErrInvalidRole)
	}
	if role.IsSystem && !IsBootstrap(ctx) {
		return Role{}, ErrSystemRole
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO authz_roles (id, name, description, is_system, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NOW(), NOW())
		RETURNING `+roleColumns,
		uuid.NewString(), role.Name, strings.TrimSpace(role.Description), role.IsSystem, role.IsActive)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, mapPgError(err)
	}
	return created, nil
}

// GetRole fetches a role and its permissions.
func (s *PostgresStore) GetRole(ctx context.Context, id string) (Role, error) {
	return getRole(ctx, s.pool, `SELECT `+roleColumns+` FROM authz_roles WHERE id = $1`, id)
}

// FindRoleByName fetches a role by case-insensitive name.
func (s *PostgresStore) FindRoleByName(ctx context.Context, name string) (Role, error) {
	return getRole(ctx, s.pool, `SELECT `+roleColumns+` FROM authz_roles WHERE LOWER(name) = LOWER($1)`, normalizeRoleName(name))
}

// ListRoles returns all roles ordered by name, with permissions.
func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM authz_roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, attachPermissions(ctx, s.pool, roles)
}

// UpdateRole edits role attributes under the role's row lock.
func (s *PostgresStore) UpdateRole(ctx context.Context, update RoleUpdate) (Role, error) {
	var out Role
	err := s.withRole(ctx, update.Ref, func(tx pgx.Tx, role Role) error {
		if update.Name != nil {
			role.Name = normalizeRoleName(*update.Name)
			if role.Name == "" {
				return fmt.Errorf("%w: name required", ErrInvalidRole)
			}
		}
		if update.Description != nil {
			role.Description = strings.TrimSpace(*update.Description)
		}
		if update.IsActive != nil {
			role.IsActive = *update.IsActive
		}
		row := tx.QueryRow(ctx, `
			UPDATE authz_roles
			SET name = $2, description = $3, is_active = $4, version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING `+roleColumns,
			role.ID, role.Name, role.Description, role.IsActive)
		updated, err := scanRole(row)
		if err != nil {
			return mapPgError(err)
		}
		perms, err := listPermissions(ctx, tx, role.ID)
		if err != nil {
			return err
		}
		updated.Permissions = perms
		out = updated
		return nil
	})
	return out, err
}

// DeleteRole removes a role; permissions cascade. Assignments are refused with
// ErrRoleInUse unless cascade is set, in which case they are deleted in the same
// transaction and principals that lose their primary role get the oldest
// remaining one promoted.
func (s *PostgresStore) DeleteRole(ctx context.Context, ref RoleRef, cascade bool) ([]string, error) {
	var holders []string
	err := s.withRole(ctx, ref, func(tx pgx.Tx, role Role) error {
		rows, err := tx.Query(ctx, `SELECT principal_id FROM authz_role_assignments WHERE role_id = $1 ORDER BY principal_id`, role.ID)
		if err != nil {
			return err
		}
		principals, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(principals) > 0 {
			if !cascade {
				return fmt.Errorf("%w: %d assignment(s)", ErrRoleInUse, len(principals))
			}
			if _, err := tx.Exec(ctx, `DELETE FROM authz_role_assignments WHERE role_id = $1`, role.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE authz_role_assignments a SET is_primary = TRUE
				WHERE a.principal_id = ANY($1)
				AND NOT EXISTS (
					SELECT 1 FROM authz_role_assignments p WHERE p.principal_id = a.principal_id AND p.is_primary
				)
				AND a.role_id = (
					SELECT o.role_id FROM authz_role_assignments o WHERE o.principal_id = a.principal_id
					ORDER BY o.created_at, o.role_id LIMIT 1
				)`, principals); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM authz_roles WHERE id = $1`, role.ID); err != nil {
			if isForeignKeyViolation(err) {
				return ErrRoleInUse
			}
			return err
		}
		holders = principals
		return nil
	})
	if err != nil {
		return nil, err
	}
	return holders, nil
}

// Grant inserts a permission and bumps the role version.
func (s *PostgresStore) Grant(ctx context.Context, ref RoleRef, perm Permission) (Permission, error) {
	perm, err := NormalizePermission(perm)
	if err != nil {
		return Permission{}, err
	}
	var out Permission
	err = s.withRole(ctx, ref, func(tx pgx.Tx, role Role) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO authz_permissions (id, role_id, entity, field, action, mask, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING `+permissionColumns,
			uuid.NewString(), role.ID, perm.Entity.String(), perm.Field, perm.Action.String(), perm.Mask.String())
		created, err := scanPermission(row)
		if err != nil {
			return mapPgError(err)
		}
		out = created
		return bumpVersion(ctx, tx, role.ID)
	})
	return out, err
}

// Revoke deletes a permission and bumps the role version.
func (s *PostgresStore) Revoke(ctx context.Context, ref RoleRef, permissionID string) error {
	return s.withRole(ctx, ref, func(tx pgx.Tx, role Role) error {
		tag, err := tx.Exec(ctx, `DELETE FROM authz_permissions WHERE id = $1 AND role_id = $2`, permissionID, role.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return bumpVersion(ctx, tx, role.ID)
	})
}

// PermissionsForRole lists permissions of a role.
func (s *PostgresStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authz_roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return listPermissions(ctx, s.pool, roleID)
}

// AssignRole links a principal to a role, serialized per principal with an advisory lock.
func (s *PostgresStore) AssignRole(ctx context.Context, principalID, roleID string, primary bool) error {
	if principalID == "" {
		return fmt.Errorf("%w: principal required", ErrInvalidRole)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, principalAdvisoryLockSQL, principalID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authz_roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		var total int
		var already bool
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(BOOL_OR(role_id = $2), FALSE)
			FROM authz_role_assignments WHERE principal_id = $1`, principalID, roleID).Scan(&total, &already); err != nil {
			return err
		}
		if !already && total >= MaxRolesPerUser {
			return ErrTooManyRoles
		}
		if !already && total == 0 {
			primary = true
		}
		if primary {
			if _, err := tx.Exec(ctx, `UPDATE authz_role_assignments SET is_primary = FALSE WHERE principal_id = $1`, principalID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO authz_role_assignments (principal_id, role_id, is_primary, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (principal_id, role_id) DO UPDATE
			SET is_primary = authz_role_assignments.is_primary OR EXCLUDED.is_primary`,
			principalID, roleID, primary)
		return mapPgError(err)
	})
}

// UnassignRole removes a role from a principal, promoting the oldest remaining role to primary when needed.
func (s *PostgresStore) UnassignRole(ctx context.Context, principalID, roleID string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, principalAdvisoryLockSQL, principalID); err != nil {
			return err
		}
		var wasPrimary bool
		err := tx.QueryRow(ctx, `
			DELETE FROM authz_role_assignments WHERE principal_id = $1 AND role_id = $2
			RETURNING is_primary`, principalID, roleID).Scan(&wasPrimary)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !wasPrimary {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE authz_role_assignments SET is_primary = TRUE
			WHERE principal_id = $1 AND role_id = (
				SELECT role_id FROM authz_role_assignments WHERE principal_id = $1 ORDER BY created_at, role_id LIMIT 1
			)`, principalID)
		return err
	})
}

// RolesForPrincipal returns the principal's roles with permissions, primary first.
func (s *PostgresStore) RolesForPrincipal(ctx context.Context, principalID string) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.description, r.is_system, r.is_active, r.version, r.created_at, r.updated_at
		FROM authz_role_assignments a
		JOIN authz_roles r ON r.id = a.role_id
		WHERE a.principal_id = $1
		ORDER BY a.is_primary DESC, a.created_at, r.id`, principalID)
	if err != nil {
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, attachPermissions(ctx, s.pool, roles)
}

// PrincipalsForRole lists principals holding a role.
func (s *PostgresStore) PrincipalsForRole(ctx context.Context, roleID string) ([]string, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authz_roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	rows, err := s.pool.Query(ctx, `SELECT principal_id FROM authz_role_assignments WHERE role_id = $1 ORDER BY principal_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// withRole locks the role row, enforces system and version rules, then runs fn in the same transaction.
func (s *PostgresStore) withRole(ctx context.Context, ref RoleRef, fn func(pgx.Tx, Role) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		role, err := scanRole(tx.QueryRow(ctx, `SELECT `+roleColumns+` FROM authz_roles WHERE id = $1 FOR UPDATE`, ref.ID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if role.IsSystem && !IsBootstrap(ctx) {
			return ErrSystemRole
		}
		if ref.Version != 0 && ref.Version != role.Version {
			return ErrConflict
		}
		return fn(tx, role)
	})
}

func bumpVersion(ctx context.Context, tx pgx.Tx, roleID string) error {
	_, err := tx.Exec(ctx, `UPDATE authz_roles SET version = version + 1, updated_at = NOW() WHERE id = $1`, roleID)
	return err
}

func getRole(ctx context.Context, q dbtx, query string, arg string) (Role, error) {
	role, err := scanRole(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	perms, err := listPermissions(ctx, q, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

func listPermissions(ctx context.Context, q dbtx, roleID string) ([]Permission, error) {
	rows, err := q.Query(ctx, `SELECT `+permissionColumns+` FROM authz_permissions WHERE role_id = $1 ORDER BY created_at, id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func attachPermissions(ctx context.Context, q dbtx, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]string, len(roles))
	index := make(map[string]int, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
		index[r.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT `+permissionColumns+` FROM authz_permissions WHERE role_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return err
		}
		if i, ok := index[p.RoleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return rows.Err()
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	var createdAt, updatedAt time.Time
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.IsActive, &r.Version, &createdAt, &updatedAt); err != nil {
		return Role{}, err
	}
	r.CreatedAt = createdAt.UTC()
	r.UpdatedAt = updatedAt.UTC()
	return r, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var entity, action, mask string
	if err := row.Scan(&p.ID, &p.RoleID, &entity, &p.Field, &action, &mask, &p.CreatedAt); err != nil {
		return Permission{}, err
	}
	var err error
	if p.Entity, err = catalog.ParseEntity(entity); err != nil {
		return Permission{}, fmt.Errorf("rbac: stored permission %s: %w", p.ID, err)
	}
	if p.Action, err = catalog.ParseAction(action); err != nil {
		return Permission{}, fmt.Errorf("rbac: stored permission %s: %w", p.ID, err)
	}
	if p.Mask, err = catalog.ParseMaskType(mask); err != nil {
		return Permission{}, fmt.Errorf("rbac: stored permission %s: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// mapPgError translates constraint violations into rbac errors.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		switch pgErr.ConstraintName {
		case constraintRoleName:
			return fmt.Errorf("%w: %s", ErrDuplicateRole, pgErr.Detail)
		case constraintPermissionKey:
			return fmt.Errorf("%w: %s", ErrDuplicatePermission, pgErr.Detail)
		}
	case foreignKeyViolation:
		return ErrNotFound
	}
	return err
}
