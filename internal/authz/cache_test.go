package authz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func roleWith(id string, active bool, actions ...catalog.Action) rbac.Role {
	role := rbac.Role{ID: id, Name: id, IsActive: active}
	for _, a := range actions {
		role.Permissions = append(role.Permissions, rbac.Permission{ID: id + "-" + a.String(), RoleID: id, Entity: catalog.EntityPage, Field: "*", Action: a})
	}
	return role
}

func staticLoader(calls *atomic.Int32, roles ...rbac.Role) RoleLoader {
	return func(ctx context.Context, principalID string) ([]rbac.Role, error) {
		calls.Add(1)
		return roles, nil
	}
}

func TestPermissionCacheTTL(t *testing.T) {
	cache := NewPermissionCache(5 * time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	var calls atomic.Int32
	load := staticLoader(&calls, roleWith("r1", true, catalog.ActionRead), roleWith("r2", false, catalog.ActionDelete))

	perms, hit, err := cache.Load(context.Background(), "u1", load)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, perms, 1, "inactive roles contribute nothing")

	_, hit, err = cache.Load(context.Background(), "u1", load)
	require.NoError(t, err)
	assert.True(t, hit)

	now = now.Add(5 * time.Second)
	_, ok := cache.Get("u1")
	assert.False(t, ok, "entry expires at the TTL")
	_, hit, err = cache.Load(context.Background(), "u1", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPermissionCacheZeroTTLDisablesCaching(t *testing.T) {
	cache := NewPermissionCache(0)
	var calls atomic.Int32
	load := staticLoader(&calls, roleWith("r1", true, catalog.ActionRead))
	for i := 0; i < 3; i++ {
		_, hit, err := cache.Load(context.Background(), "u1", load)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.EqualValues(t, 3, calls.Load())
	assert.Zero(t, cache.Len())
}

func TestPermissionCacheInvalidation(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	ctx := context.Background()
	var calls atomic.Int32
	shared := roleWith("shared", true, catalog.ActionRead)
	_, _, err := cache.Load(ctx, "u1", staticLoader(&calls, shared, roleWith("own1", true)))
	require.NoError(t, err)
	_, _, err = cache.Load(ctx, "u2", staticLoader(&calls, shared))
	require.NoError(t, err)
	_, _, err = cache.Load(ctx, "u3", staticLoader(&calls, roleWith("other", true)))
	require.NoError(t, err)
	require.Equal(t, 3, cache.Len())

	cache.InvalidateRole("shared")
	_, ok := cache.Get("u1")
	assert.False(t, ok)
	_, ok = cache.Get("u2")
	assert.False(t, ok)
	_, ok = cache.Get("u3")
	assert.True(t, ok)

	cache.InvalidatePrincipal("u3")
	assert.Zero(t, cache.Len())

	_, _, err = cache.Load(ctx, "u1", staticLoader(&calls, shared))
	require.NoError(t, err)
	cache.InvalidateAll()
	assert.Zero(t, cache.Len())
}

func TestPermissionCacheDropsLoadRacingInvalidation(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, principalID string) ([]rbac.Role, error) {
		close(started)
		<-release
		return []rbac.Role{roleWith("r1", true, catalog.ActionRead)}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := cache.Load(context.Background(), "u1", load)
		done <- err
	}()
	<-started
	cache.InvalidatePrincipal("u1")
	close(release)
	require.NoError(t, <-done)

	_, ok := cache.Get("u1")
	assert.False(t, ok)
}

func TestPermissionCacheCollapsesConcurrentMisses(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context, principalID string) ([]rbac.Role, error) {
		calls.Add(1)
		<-release
		return []rbac.Role{roleWith("r1", true, catalog.ActionRead)}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perms, _, err := cache.Load(context.Background(), "u1", load)
			assert.NoError(t, err)
			assert.Len(t, perms, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestPermissionCacheSharedLoadSurvivesLeaderCancel(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context, principalID string) ([]rbac.Role, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []rbac.Role{roleWith("r1", true, catalog.ActionRead)}, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := cache.Load(leaderCtx, "u1", load)
		leaderErr <- err
	}()
	<-started

	type result struct {
		perms []rbac.Permission
		err   error
	}
	follower := make(chan result, 1)
	go func() {
		perms, _, err := cache.Load(context.Background(), "u1", load)
		follower <- result{perms, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	assert.Len(t, got.perms, 1)
	assert.EqualValues(t, 1, calls.Load())
	_, ok := cache.Get("u1")
	assert.True(t, ok)
}

func TestPermissionCacheSharedLoadIsBounded(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	cache.SetLoadTimeout(30 * time.Millisecond)
	cache.SetLoadTimeout(0)

	started := time.Now()
	_, _, err := cache.Load(context.Background(), "u1", func(ctx context.Context, _ string) ([]rbac.Role, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestPermissionCacheLoadErrorNotCached(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	boom := errors.New("boom")
	_, _, err := cache.Load(context.Background(), "u1", func(context.Context, string) ([]rbac.Role, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len())
}

func TestInvalidationEventApply(t *testing.T) {
	cache := NewPermissionCache(time.Minute)
	var calls atomic.Int32
	_, _, err := cache.Load(context.Background(), "u1", staticLoader(&calls, roleWith("r1", true)))
	require.NoError(t, err)

	InvalidationEvent{Scope: ScopeRole, ID: "r1"}.Apply(cache)
	assert.Zero(t, cache.Len())

	_, _, err = cache.Load(context.Background(), "u1", staticLoader(&calls, roleWith("r1", true)))
	require.NoError(t, err)
	InvalidationEvent{Scope: "bogus"}.Apply(cache)
	assert.Zero(t, cache.Len())
}
