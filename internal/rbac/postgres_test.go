package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

func TestMapPgError(t *testing.T) {
	require.NoError(t, mapPgError(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, mapPgError(plain))

	dupRole := &pgconn.PgError{Code: uniqueViolation, ConstraintName: constraintRoleName}
	assert.ErrorIs(t, mapPgError(dupRole), ErrDuplicateRole)

	dupPerm := fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation, ConstraintName: constraintPermissionKey})
	assert.ErrorIs(t, mapPgError(dupPerm), ErrDuplicatePermission)

	otherUnique := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "authz_role_assignments_pkey"}
	assert.Equal(t, error(otherUnique), mapPgError(otherUnique))

	fk := &pgconn.PgError{Code: foreignKeyViolation}
	assert.ErrorIs(t, mapPgError(fk), ErrNotFound)
	assert.True(t, isForeignKeyViolation(fk))
	assert.False(t, isForeignKeyViolation(dupRole))
}

// fakeRow scans a fixed set of values, or returns err.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d columns, got %d", len(r.values), len(dest))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

type fakeRows struct {
	pgx.Rows
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error { return fakeRow{values: r.rows[r.pos-1]}.Scan(dest...) }
func (r *fakeRows) Close()                 {}
func (r *fakeRows) Err() error             { return nil }

// fakeTx answers the statements PostgresStore issues inside withRole.
type fakeTx struct {
	pgx.Tx
	role       []any
	principals []string
	insertErr  error
	deleted    int64
	execs      []string
	committed  bool
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "FOR UPDATE"):
		if tx.role == nil {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{values: tx.role}
	case strings.Contains(sql, "INSERT INTO authz_permissions"):
		if tx.insertErr != nil {
			return fakeRow{err: tx.insertErr}
		}
		return fakeRow{values: []any{"perm-1", "role-1", "user", "*", "read", "none", time.Unix(0, 0)}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query row: %s", sql)}
}

func (tx *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "FROM authz_role_assignments") {
		rows := &fakeRows{}
		for _, p := range tx.principals {
			rows.rows = append(rows.rows, []any{p})
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (tx *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, strings.Join(strings.Fields(sql), " "))
	if strings.HasPrefix(strings.TrimSpace(sql), "DELETE FROM authz_permissions") {
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", tx.deleted)), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return p.tx, nil }

func (p *fakePool) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("use a transaction")
}

func (p *fakePool) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("use a transaction")
}

func (p *fakePool) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return fakeRow{err: errors.New("use a transaction")}
}

func roleRow(version int64, system bool) []any {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []any{"role-1", "Editor", "", system, true, version, at, at}
}

func newFakeStore(tx *fakeTx) *PostgresStore {
	return &PostgresStore{pool: &fakePool{tx: tx}}
}

func TestPostgresStoreDeleteRoleStaleVersion(t *testing.T) {
	tx := &fakeTx{role: roleRow(3, false), principals: []string{"p1"}}
	revoked, err := newFakeStore(tx).DeleteRole(context.Background(), RoleRef{ID: "role-1", Version: 2}, true)
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, revoked)
	assert.Empty(t, tx.execs)
	assert.False(t, tx.committed)
}

func TestPostgresStoreDeleteRoleInUse(t *testing.T) {
	tx := &fakeTx{role: roleRow(1, false), principals: []string{"p1", "p2"}}
	_, err := newFakeStore(tx).DeleteRole(context.Background(), RoleRef{ID: "role-1", Version: 1}, false)
	require.ErrorIs(t, err, ErrRoleInUse)
	assert.Empty(t, tx.execs)
	assert.False(t, tx.committed)
}

func TestPostgresStoreDeleteRoleCascade(t *testing.T) {
	tx := &fakeTx{role: roleRow(1, false), principals: []string{"p1", "p2"}}
	revoked, err := newFakeStore(tx).DeleteRole(context.Background(), RoleRef{ID: "role-1", Version: 1}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, revoked)
	require.Len(t, tx.execs, 3)
	assert.True(t, strings.HasPrefix(tx.execs[0], "DELETE FROM authz_role_assignments"))
	assert.True(t, strings.HasPrefix(tx.execs[1], "UPDATE authz_role_assignments"))
	assert.True(t, strings.HasPrefix(tx.execs[2], "DELETE FROM authz_roles"))
	assert.True(t, tx.committed)
}

func TestPostgresStoreSystemRoleRequiresBootstrap(t *testing.T) {
	tx := &fakeTx{role: roleRow(1, true)}
	s := newFakeStore(tx)
	_, err := s.DeleteRole(context.Background(), RoleRef{ID: "role-1"}, true)
	require.ErrorIs(t, err, ErrSystemRole)
	_, err = s.Grant(context.Background(), RoleRef{ID: "role-1"}, Permission{Entity: catalog.EntityUser, Field: "*", Action: catalog.ActionRead})
	require.ErrorIs(t, err, ErrSystemRole)
	assert.Empty(t, tx.execs)

	_, err = s.Grant(Bootstrap(context.Background()), RoleRef{ID: "role-1"}, Permission{Entity: catalog.EntityUser, Field: "*", Action: catalog.ActionRead})
	require.NoError(t, err)
	assert.True(t, tx.committed)
}

func TestPostgresStoreMissingRole(t *testing.T) {
	_, err := newFakeStore(&fakeTx{}).DeleteRole(context.Background(), RoleRef{ID: "nope"}, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreGrant(t *testing.T) {
	tx := &fakeTx{role: roleRow(4, false)}
	perm, err := newFakeStore(tx).Grant(context.Background(), RoleRef{ID: "role-1", Version: 4},
		Permission{Entity: catalog.EntityUser, Field: "*", Action: catalog.ActionRead})
	require.NoError(t, err)
	assert.Equal(t, "perm-1", perm.ID)
	assert.Equal(t, catalog.MaskNone, perm.Mask)
	require.Len(t, tx.execs, 1)
	assert.Contains(t, tx.execs[0], "SET version = version + 1")
	assert.True(t, tx.committed)
}

func TestPostgresStoreGrantDuplicateTriple(t *testing.T) {
	tx := &fakeTx{
		role:      roleRow(1, false),
		insertErr: &pgconn.PgError{Code: uniqueViolation, ConstraintName: constraintPermissionKey},
	}
	_, err := newFakeStore(tx).Grant(context.Background(), RoleRef{ID: "role-1"},
		Permission{Entity: catalog.EntityUser, Field: "*", Action: catalog.ActionRead})
	require.ErrorIs(t, err, ErrDuplicatePermission)
	assert.Empty(t, tx.execs)
	assert.False(t, tx.committed)
}

func TestPostgresStoreRevokeMissing(t *testing.T) {
	tx := &fakeTx{role: roleRow(1, false)}
	err := newFakeStore(tx).Revoke(context.Background(), RoleRef{ID: "role-1"}, "perm-x")
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, tx.committed)

	tx = &fakeTx{role: roleRow(1, false), deleted: 1}
	require.NoError(t, newFakeStore(tx).Revoke(context.Background(), RoleRef{ID: "role-1"}, "perm-1"))
	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[1], "SET version = version + 1")
}
