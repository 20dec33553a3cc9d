package goals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreezeQuarterFreezesMatchingGoals(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	owner := uuid.New()

	inQuarter := f.seedGoal(t, Goal{
		Title: "Q1 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	otherQuarter := f.seedGoal(t, Goal{
		Title: "Q2 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q2), Year: intOf(2026),
	})
	yearly := f.seedGoal(t, Goal{
		Title: "Yearly", Kind: KindOrganizationalYearly, Status: StatusActive,
	})
	achieved := f.seedGoal(t, Goal{
		Title: "Done already", Kind: KindIndividual, Status: StatusAchieved,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	log, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, log.AffectedGoalsCount)
	assert.Equal(t, FreezeActionFreeze, log.Action)

	frozen, _ := f.repo.GetGoal(context.Background(), inQuarter.ID)
	assert.True(t, frozen.Frozen)
	require.NotNil(t, frozen.FrozenAt)

	for _, id := range []uuid.UUID{otherQuarter.ID, yearly.ID, achieved.ID} {
		g, _ := f.repo.GetGoal(context.Background(), id)
		assert.False(t, g.Frozen, "goal %s must stay unfrozen", g.Title)
	}
}

func TestFreezeQuarterIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	owner := uuid.New()
	f.seedGoal(t, Goal{
		Title: "Q1 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	first, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AffectedGoalsCount)

	// Repeating affects nothing new but still writes a log.
	second, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AffectedGoalsCount)

	logs, err := f.repo.ListFreezeLogs(context.Background(), quarterOf(Q1), intOf(2026))
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestFreezeQuarterRequiresPermission(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, uuid.New())
	require.ErrorIs(t, err, ErrPermissionDenied)

	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	_, err = f.service.FreezeQuarter(context.Background(), "Q9", 2026, nil, admin)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUnfreezeQuarterEmergencyNeedsReason(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)

	_, err := f.service.UnfreezeQuarter(context.Background(), Q1, 2026, UnfreezeOptions{EmergencyOverride: true}, admin)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "emergency_reason", verr.Field)
}

func TestUnfreezeQuarterRestoresGoals(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	owner := uuid.New()
	goal := f.seedGoal(t, Goal{
		Title: "Q1 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)

	log, err := f.service.UnfreezeQuarter(context.Background(), Q1, 2026, UnfreezeOptions{
		EmergencyOverride: true, Reason: "board review moved up",
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, log.AffectedGoalsCount)
	assert.True(t, log.IsEmergencyOverride)
	require.NotNil(t, log.EmergencyReason)

	g, _ := f.repo.GetGoal(context.Background(), goal.ID)
	assert.False(t, g.Frozen)
	assert.Nil(t, g.FrozenAt)

	// Mutations work again.
	_, err = f.service.UpdateProgress(context.Background(), goal.ID, 25, "back on it", owner)
	require.NoError(t, err)
}

func TestUnfreezeDueAppliesScheduledUnfreezes(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	owner := uuid.New()
	f.seedGoal(t, Goal{
		Title: "Q1 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	f.seedGoal(t, Goal{
		Title: "Q2 goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q2), Year: intOf(2026),
	})

	unfreezeAt := f.now.Add(24 * time.Hour)
	_, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, &unfreezeAt, admin)
	require.NoError(t, err)
	_, err = f.service.FreezeQuarter(context.Background(), Q2, 2026, &unfreezeAt, admin)
	require.NoError(t, err)

	// Before the scheduled time nothing is due.
	due, err := f.service.DueForUnfreeze(context.Background(), f.now)
	require.NoError(t, err)
	assert.Empty(t, due)
	count, err := f.service.UnfreezeDue(context.Background(), f.now)
	require.NoError(t, err)
	assert.Zero(t, count)

	// After it, both quarters unfreeze with one log each, performed by the
	// system actor.
	later := unfreezeAt.Add(time.Minute)
	count, err = f.service.UnfreezeDue(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	logs, err := f.repo.ListFreezeLogs(context.Background(), nil, nil)
	require.NoError(t, err)
	unfreezeLogs := 0
	for _, l := range logs {
		if l.Action == FreezeActionUnfreeze {
			unfreezeLogs++
			assert.Equal(t, uuid.Nil, l.PerformedBy)
		}
	}
	assert.Equal(t, 2, unfreezeLogs)
}

func TestFreezeBlocksApprovalWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	owner := uuid.New()
	boss := uuid.New()
	f.identity.supervisors[owner] = boss
	goal := f.seedGoal(t, Goal{
		Title: "Pending in Q1", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)

	var ferr *FrozenGoalError
	_, err = f.service.ApproveGoal(context.Background(), goal.ID, boss)
	require.ErrorAs(t, err, &ferr)
}
