package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/perfdesk/perfdesk/internal/app"
	"github.com/perfdesk/perfdesk/internal/directory"
	"github.com/perfdesk/perfdesk/internal/goals"
	"github.com/perfdesk/perfdesk/internal/platform/db"
	"github.com/perfdesk/perfdesk/internal/shared"
	"github.com/perfdesk/perfdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	// The worker runs the engine without notifier or locker: the scan is
	// already serialized by the scheduler and re-notifying from here would
	// loop the queue back into itself.
	goalService := goals.NewService(goals.ServiceParams{
		Repo:     goals.NewRepository(pool),
		Identity: directory.NewService(directory.NewRepository(pool)),
		Audit:    shared.NewAuditLogger(pool),
		Logger:   logger,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeUnfreezeScan, Handler: jobs.NewUnfreezeScanHandler(goalService, logger)},
			{Type: jobs.TaskTypeNotify, Handler: jobs.NewNotifyHandler(logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.UnfreezeScanInterval.String(), Task: jobs.NewUnfreezeScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
