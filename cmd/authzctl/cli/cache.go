package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

// CacheCLI broadcasts permission cache invalidations to every running gateway.
type CacheCLI struct {
	publisher authz.Broadcaster
}

// NewCacheCLI publishes on channel through client.
func NewCacheCLI(client *redis.Client, channel string) *CacheCLI {
	return &CacheCLI{publisher: authz.NewRedisInvalidator(client, channel, nil)}
}

// Invalidate publishes one event. scope is principal, role or all; id is
// required for the first two.
func (c *CacheCLI) Invalidate(ctx context.Context, scope, id string) error {
	if c == nil || c.publisher == nil {
		return errors.New("cache cli: publisher not configured")
	}
	switch scope {
	case authz.ScopePrincipal, authz.ScopeRole:
		if id == "" {
			return fmt.Errorf("cache cli: %s scope needs an id", scope)
		}
	case authz.ScopeAll:
		id = ""
	default:
		return fmt.Errorf("cache cli: unknown scope %q", scope)
	}
	return c.publisher.Publish(ctx, authz.InvalidationEvent{Scope: scope, ID: id})
}
