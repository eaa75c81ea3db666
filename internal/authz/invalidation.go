package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel carries permission cache invalidations between processes.
const DefaultInvalidationChannel = "authz.invalidate"

// Invalidation scopes.
const (
	ScopePrincipal = "principal"
	ScopeRole      = "role"
	ScopeAll       = "all"
)

// InvalidationEvent names what changed.
type InvalidationEvent struct {
	Scope string `json:"scope"`
	ID    string `json:"id,omitempty"`
}

// LocalInvalidator is the in-process side of an invalidation, satisfied by PermissionCache.
type LocalInvalidator interface {
	InvalidatePrincipal(principalID string)
	InvalidateRole(roleID string)
	InvalidateAll()
}

// Apply forwards the event to target. Unknown scopes clear everything.
func (e InvalidationEvent) Apply(target LocalInvalidator) {
	switch e.Scope {
	case ScopePrincipal:
		target.InvalidatePrincipal(e.ID)
	case ScopeRole:
		target.InvalidateRole(e.ID)
	default:
		target.InvalidateAll()
	}
}

// Broadcaster announces invalidations to other processes.
type Broadcaster interface {
	Publish(ctx context.Context, event InvalidationEvent) error
}

// RedisInvalidator fans invalidation events out over Redis pub/sub.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisInvalidator builds an invalidator on channel, or the default channel when empty.
func NewRedisInvalidator(client *redis.Client, channel string, logger *slog.Logger) *RedisInvalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisInvalidator{client: client, channel: channel, logger: logger}
}

// Publish sends event to every listener.
func (r *RedisInvalidator) Publish(ctx context.Context, event InvalidationEvent) error {
	if r == nil || r.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("authz: publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and applies each event to target until ctx
// is cancelled. It returns once the subscription is confirmed. Malformed
// payloads clear the whole target.
func (r *RedisInvalidator) Listen(ctx context.Context, target LocalInvalidator) error {
	if r == nil || r.client == nil {
		return nil
	}
	if target == nil {
		return errors.New("authz: invalidation target required")
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("authz: subscribe %s: %w", r.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event InvalidationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.Warn("authz invalidation payload", slog.String("payload", msg.Payload), slog.Any("error", err))
					event = InvalidationEvent{Scope: ScopeAll}
				}
				event.Apply(target)
			}
		}
	}()
	return nil
}
