package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	res, err := app.OpenResources(ctx, cfg, logger, app.ResourceOptions{RequireRedis: cfg.AuthzAuditMode == app.AuditQueue})
	if err != nil {
		logger.Error("open resources", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("close resources", slog.Any("error", err))
		}
	}()

	if cfg.SeedOnStart || cfg.StoreDriver == app.StoreMemory {
		report, err := rbac.Seed(ctx, res.Store)
		if err != nil {
			logger.Error("seed roles", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("roles seeded",
			slog.Int("roles_created", report.RolesCreated),
			slog.Int("permissions_created", report.PermissionsCreated),
			slog.Int("permissions_total", report.PermissionsTotal))
	}

	metrics := observability.NewMetrics()
	authzMetrics, err := authz.NewMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register authz metrics", slog.Any("error", err))
		os.Exit(1)
	}

	opts := []authz.Option{
		authz.WithLogger(logger),
		authz.WithMetrics(authzMetrics),
		authz.WithLookupTimeout(cfg.AuthzLookupTimeout),
	}

	var permCache *authz.PermissionCache
	if ttl := cfg.CacheTTL(); ttl > 0 {
		permCache = authz.NewPermissionCache(ttl)
		opts = append(opts, authz.WithCache(permCache))
	}

	if res.Redis != nil {
		invalidator := authz.NewRedisInvalidator(res.Redis, cfg.AuthzInvalidateChan, logger)
		opts = append(opts, authz.WithBroadcaster(invalidator))
		if permCache != nil {
			if err := invalidator.Listen(ctx, permCache); err != nil {
				logger.Error("listen for cache invalidations", slog.Any("error", err))
				os.Exit(1)
			}
		}
	}

	var auditHandler *audit.Handler
	switch cfg.AuthzAuditMode {
	case app.AuditDB:
		recorder := audit.NewRecorder(res.Pool)
		opts = append(opts, authz.WithAuditor(recorder))
		auditHandler = audit.NewHandler(recorder, logger)
	case app.AuditQueue:
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		opts = append(opts, authz.WithAuditor(jobs.NewAuditEnqueuer(client, logger)))
		if res.Pool != nil {
			auditHandler = audit.NewHandler(audit.NewRecorder(res.Pool), logger)
		}
	default:
		opts = append(opts, authz.WithAuditor(authz.LogAuditor{Logger: logger}))
	}

	gateway := authz.NewGateway(res.Store, opts...)
	rolesService := roles.NewService(res.Store, gateway, gateway, logger)

	var jobHandler *jobs.Handler
	if res.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Gateway:      gateway,
		AuthzHandler: authz.NewHandler(gateway, logger),
		RolesHandler: roles.NewHandler(logger, rolesService, nil),
		AuditHandler: auditHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
		Readiness:    res.Readiness(),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("audit", cfg.AuthzAuditMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
