package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// Resources are the connections and store shared by a process.
type Resources struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	Store rbac.Store
}

// ResourceOptions selects what OpenResources dials.
type ResourceOptions struct {
	// RequireRedis fails startup when Redis is unreachable instead of running
	// without cross-process invalidation.
	RequireRedis bool
}

// OpenResources connects the permission store selected by STORE_DRIVER and Redis.
func OpenResources(ctx context.Context, cfg *Config, logger *slog.Logger, opts ResourceOptions) (*Resources, error) {
	res := &Resources{}
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
		if err != nil {
			return nil, err
		}
		res.Pool = pool
		res.Store = rbac.NewPostgresStore(pool)
	case StoreMemory:
		res.Store = rbac.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	switch {
	case err == nil:
		res.Redis = client
	case opts.RequireRedis:
		_ = res.Close()
		return nil, err
	default:
		logger.Warn("redis unavailable, cache invalidation stays local", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
	}
	return res, nil
}

// Readiness returns the checks served on /readyz.
func (r *Resources) Readiness() map[string]ReadinessCheck {
	checks := map[string]ReadinessCheck{}
	if r.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return r.Pool.Ping(ctx) }
	}
	if r.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases every open connection.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
	return errors.Join(errs...)
}
