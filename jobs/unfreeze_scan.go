package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/perfdesk/perfdesk/internal/goals"
)

// NewUnfreezeScanHandler returns the handler applying scheduled unfreezes.
// The scan is idempotent: a goal already unfrozen by a concurrent run
// simply drops out of the affected count.
func NewUnfreezeScanHandler(service *goals.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		count, err := service.UnfreezeDue(ctx, time.Now())
		if err != nil {
			logger.Error("unfreeze scan", slog.Any("error", err))
			return err
		}
		if count > 0 {
			logger.Info("unfreeze scan complete", slog.Int("unfrozen", count))
		}
		return nil
	}
}

// NewNotifyHandler returns the handler delivering goal notifications. The
// current delivery channel is the structured log; a mail or chat gateway
// plugs in behind the same task type.
func NewNotifyHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload NotifyPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		attrs := []any{
			slog.String("kind", string(payload.Kind)),
			slog.Int("recipients", len(payload.OwnerIDs)),
		}
		if payload.GoalID != nil {
			attrs = append(attrs, slog.String("goal_id", payload.GoalID.String()))
		}
		if payload.Quarter != nil && payload.Year != nil {
			attrs = append(attrs, slog.String("quarter", string(*payload.Quarter)), slog.Int("year", *payload.Year))
		}
		logger.Info("deliver notification", attrs...)
		return nil
	}
}
