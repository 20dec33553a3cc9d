package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/perfdesk/perfdesk/internal/app"
	"github.com/perfdesk/perfdesk/internal/directory"
	"github.com/perfdesk/perfdesk/internal/goals"
	"github.com/perfdesk/perfdesk/internal/observability"
	"github.com/perfdesk/perfdesk/internal/platform/cache"
	"github.com/perfdesk/perfdesk/internal/platform/db"
	"github.com/perfdesk/perfdesk/internal/rbac"
	"github.com/perfdesk/perfdesk/internal/shared"
	"github.com/perfdesk/perfdesk/jobs"
)

// quarterLocker adapts the redis lock to the engine's locker interface.
type quarterLocker struct {
	lock *shared.QuarterLock
}

func (l quarterLocker) Acquire(ctx context.Context, quarter goals.Quarter, year int) (func(), error) {
	return l.lock.Acquire(ctx, string(quarter), year)
}

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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	directoryService := directory.NewService(directory.NewRepository(pool))
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	quarterLock := shared.NewQuarterLock(redisClient)
	metrics := observability.NewMetrics()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	goalService := goals.NewService(goals.ServiceParams{
		Repo:     goals.NewRepository(pool),
		Identity: directoryService,
		Audit:    auditLogger,
		Notifier: jobs.NewNotifier(jobClient),
		Locker:   quarterLocker{lock: quarterLock},
		Metrics:  metrics,
		Logger:   logger,
	})
	goalHandler := goals.NewHandler(logger, goalService, idempotencyStore)

	rbacMiddleware := rbac.Middleware{Source: directoryService, Logger: logger}
	permissionsHandler := rbac.NewPermissionsHandler(directoryService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		GoalsHandler:       goalHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
