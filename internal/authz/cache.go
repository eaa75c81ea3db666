package authz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// RoleLoader fetches every role assigned to a principal, active or not.
type RoleLoader func(ctx context.Context, principalID string) ([]rbac.Role, error)

// PermissionCache keeps each principal's effective permission set for a short
// TTL. Entries are indexed by role so a role edit drops every principal holding
// it. A zero TTL disables caching while still collapsing concurrent loads.
type PermissionCache struct {
	ttl time.Duration
	now func() time.Time
	// loadTimeout bounds a shared load, which outlives any single caller.
	loadTimeout time.Duration

	mu         sync.RWMutex
	entries    map[string]cacheEntry
	byRole     map[string]map[string]struct{}
	generation uint64

	group singleflight.Group
}

type cacheEntry struct {
	perms   []rbac.Permission
	roleIDs []string
	expires time.Time
}

// NewPermissionCache builds a cache with the given TTL.
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		ttl:         ttl,
		now:         time.Now,
		loadTimeout: DefaultLookupTimeout,
		entries:     make(map[string]cacheEntry),
		byRole:      make(map[string]map[string]struct{}),
	}
}

// SetLoadTimeout bounds each shared load. Non-positive values are ignored.
func (c *PermissionCache) SetLoadTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadTimeout = d
}

// Get returns the cached permissions of a principal if present and fresh.
func (c *PermissionCache) Get(principalID string) ([]rbac.Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[principalID]
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	return entry.perms, true
}

// Load returns the principal's effective permissions, calling load on a miss.
// Concurrent misses for one principal share a single load. The shared load is
// detached from the caller that started it and bounded by the load timeout;
// each caller still stops waiting when its own ctx ends. A load that races
// with an invalidation is returned to its callers but not cached.
func (c *PermissionCache) Load(ctx context.Context, principalID string, load RoleLoader) ([]rbac.Permission, bool, error) {
	if perms, ok := c.Get(principalID); ok {
		return perms, true, nil
	}

	c.mu.RLock()
	gen := c.generation
	timeout := c.loadTimeout
	c.mu.RUnlock()

	key := principalID + ":" + strconv.FormatUint(gen, 10)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		roles, err := load(loadCtx, principalID)
		if err != nil {
			return nil, err
		}
		perms := rbac.Union(roles)
		c.store(principalID, gen, perms, roles)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]rbac.Permission), false, nil
	}
}

func (c *PermissionCache) store(principalID string, gen uint64, perms []rbac.Permission, roles []rbac.Role) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.dropLocked(principalID)
	entry := cacheEntry{perms: perms, expires: c.now().Add(c.ttl)}
	for _, role := range roles {
		entry.roleIDs = append(entry.roleIDs, role.ID)
		holders, ok := c.byRole[role.ID]
		if !ok {
			holders = make(map[string]struct{})
			c.byRole[role.ID] = holders
		}
		holders[principalID] = struct{}{}
	}
	c.entries[principalID] = entry
}

// InvalidatePrincipal drops the cached set of one principal.
func (c *PermissionCache) InvalidatePrincipal(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.dropLocked(principalID)
}

// InvalidateRole drops every principal whose cached set includes the role.
func (c *PermissionCache) InvalidateRole(roleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for principalID := range c.byRole[roleID] {
		c.dropLocked(principalID)
	}
	delete(c.byRole, roleID)
}

// InvalidateAll empties the cache.
func (c *PermissionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[string]cacheEntry)
	c.byRole = make(map[string]map[string]struct{})
}

// Len reports the number of cached principals, fresh or expired.
func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *PermissionCache) dropLocked(principalID string) {
	entry, ok := c.entries[principalID]
	if !ok {
		return
	}
	delete(c.entries, principalID)
	for _, roleID := range entry.roleIDs {
		holders := c.byRole[roleID]
		delete(holders, principalID)
		if len(holders) == 0 {
			delete(c.byRole, roleID)
		}
	}
}
