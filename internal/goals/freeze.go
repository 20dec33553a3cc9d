package goals

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnfreezeOptions qualifies an unfreeze request. EmergencyOverride demands
// a non-empty reason, which is stored on the freeze log permanently.
type UnfreezeOptions struct {
	EmergencyOverride bool
	Reason            string
}

// FreezeQuarter freezes every unfrozen quarter-scoped goal matching
// (quarter, year) in one transaction. Already-frozen goals are untouched
// and not counted, so repeating the call is a no-op with count zero. A
// freeze log is written even when nothing matched.
func (s *Service) FreezeQuarter(ctx context.Context, quarter Quarter, year int, scheduledUnfreezeAt *time.Time, actorID uuid.UUID) (*FreezeLog, error) {
	if !quarter.Valid() {
		return nil, &ValidationError{Field: "quarter", Reason: "unknown quarter"}
	}
	if err := s.requirePermission(ctx, actorID, PermGoalFreeze); err != nil {
		return nil, err
	}
	release, err := s.acquireQuarterLock(ctx, quarter, year)
	if err != nil {
		return nil, err
	}
	defer release()

	at := s.now()
	log := FreezeLog{
		ID:                  uuid.New(),
		Action:              FreezeActionFreeze,
		Quarter:             quarter,
		Year:                year,
		ScheduledUnfreezeAt: scheduledUnfreezeAt,
		PerformedBy:         actorID,
		PerformedAt:         at,
	}
	var owners []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		unfrozen := false
		matching, err := repo.ListByQuarter(ctx, quarter, year, &unfrozen)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(matching))
		for i := range matching {
			if matching[i].Status.Terminal() {
				continue
			}
			ids = append(ids, matching[i].ID)
			if matching[i].OwnerID != nil {
				owners = append(owners, *matching[i].OwnerID)
			}
		}
		if len(ids) > 0 {
			affected, err := repo.SetFrozen(ctx, ids, FreezeParams{
				Frozen:              true,
				At:                  at,
				By:                  actorID,
				ScheduledUnfreezeAt: scheduledUnfreezeAt,
			})
			if err != nil {
				return err
			}
			log.AffectedGoalsCount = affected
		}
		return repo.InsertFreezeLog(ctx, log)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.FreezeAction(FreezeActionFreeze, log.AffectedGoalsCount)
	}
	s.recordAudit(ctx, actorID, "goal.freeze_quarter", log.ID, map[string]any{
		"quarter": string(quarter), "year": year, "affected": log.AffectedGoalsCount,
	})
	if log.AffectedGoalsCount > 0 {
		s.notify(ctx, Notification{Kind: NotifyGoalsFrozen, Quarter: &quarter, Year: &year, ActorID: actorID, OwnerIDs: dedupe(owners)})
	}
	s.logger.Info("quarter frozen",
		slog.String("quarter", string(quarter)),
		slog.Int("year", year),
		slog.Int("affected", log.AffectedGoalsCount))
	return &log, nil
}

// UnfreezeQuarter unfreezes every frozen goal matching (quarter, year).
// Emergency overrides require a reason; the engine applies the unfreeze
// unconditionally once the caller is authorized.
func (s *Service) UnfreezeQuarter(ctx context.Context, quarter Quarter, year int, opts UnfreezeOptions, actorID uuid.UUID) (*FreezeLog, error) {
	if !quarter.Valid() {
		return nil, &ValidationError{Field: "quarter", Reason: "unknown quarter"}
	}
	if opts.EmergencyOverride && strings.TrimSpace(opts.Reason) == "" {
		return nil, &ValidationError{Field: "emergency_reason", Reason: "required for emergency override"}
	}
	if err := s.requirePermission(ctx, actorID, PermGoalFreeze); err != nil {
		return nil, err
	}
	release, err := s.acquireQuarterLock(ctx, quarter, year)
	if err != nil {
		return nil, err
	}
	defer release()

	at := s.now()
	log := FreezeLog{
		ID:                  uuid.New(),
		Action:              FreezeActionUnfreeze,
		Quarter:             quarter,
		Year:                year,
		IsEmergencyOverride: opts.EmergencyOverride,
		PerformedBy:         actorID,
		PerformedAt:         at,
	}
	if opts.EmergencyOverride {
		reason := opts.Reason
		log.EmergencyReason = &reason
	}
	var owners []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		frozen := true
		matching, err := repo.ListByQuarter(ctx, quarter, year, &frozen)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(matching))
		for i := range matching {
			ids = append(ids, matching[i].ID)
			if matching[i].OwnerID != nil {
				owners = append(owners, *matching[i].OwnerID)
			}
		}
		if len(ids) > 0 {
			affected, err := repo.SetFrozen(ctx, ids, FreezeParams{Frozen: false, At: at, By: actorID})
			if err != nil {
				return err
			}
			log.AffectedGoalsCount = affected
		}
		return repo.InsertFreezeLog(ctx, log)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.FreezeAction(FreezeActionUnfreeze, log.AffectedGoalsCount)
	}
	s.recordAudit(ctx, actorID, "goal.unfreeze_quarter", log.ID, map[string]any{
		"quarter": string(quarter), "year": year,
		"affected": log.AffectedGoalsCount, "emergency": opts.EmergencyOverride,
	})
	if log.AffectedGoalsCount > 0 {
		s.notify(ctx, Notification{Kind: NotifyGoalsUnfrozen, Quarter: &quarter, Year: &year, ActorID: actorID, Reason: opts.Reason, OwnerIDs: dedupe(owners)})
	}
	return &log, nil
}

// DueForUnfreeze lists frozen goals whose scheduled unfreeze time has
// elapsed at now. The engine keeps no timer; an external scheduler polls
// this and acts on the result.
func (s *Service) DueForUnfreeze(ctx context.Context, now time.Time) ([]Goal, error) {
	return s.repo.ListDueForUnfreeze(ctx, now)
}

// UnfreezeDue applies the scheduled unfreeze for every due goal, grouped
// per (quarter, year) so each group gets its own freeze log. Performed by
// the system actor (nil UUID). Returns the number of goals unfrozen.
func (s *Service) UnfreezeDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDueForUnfreeze(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	type bucket struct {
		quarter Quarter
		year    int
		ids     []uuid.UUID
	}
	groups := map[string]*bucket{}
	for i := range due {
		g := due[i]
		if !g.QuarterScoped() {
			continue
		}
		key := string(*g.Quarter) + ":" + strconv.Itoa(*g.Year)
		b, ok := groups[key]
		if !ok {
			b = &bucket{quarter: *g.Quarter, year: *g.Year}
			groups[key] = b
		}
		b.ids = append(b.ids, g.ID)
	}

	total := 0
	for _, b := range groups {
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			affected, err := repo.SetFrozen(ctx, b.ids, FreezeParams{Frozen: false, At: now})
			if err != nil {
				return err
			}
			total += affected
			return repo.InsertFreezeLog(ctx, FreezeLog{
				ID:                 uuid.New(),
				Action:             FreezeActionUnfreeze,
				Quarter:            b.quarter,
				Year:               b.year,
				AffectedGoalsCount: affected,
				PerformedBy:        uuid.Nil,
				PerformedAt:        now,
			})
		})
		if err != nil {
			return total, err
		}
		if s.metrics != nil {
			s.metrics.FreezeAction(FreezeActionUnfreeze, len(b.ids))
		}
		s.logger.Info("scheduled unfreeze applied",
			slog.String("quarter", string(b.quarter)),
			slog.Int("year", b.year),
			slog.Int("goals", len(b.ids)))
	}
	return total, nil
}

func (s *Service) acquireQuarterLock(ctx context.Context, quarter Quarter, year int) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, quarter, year)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
