package goals

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is a map-backed Repository for engine tests. WithTx runs the
// callback directly; atomicity is the real repository's concern.
type memRepo struct {
	goals       map[uuid.UUID]Goal
	reports     map[uuid.UUID][]ProgressReport
	freezeLogs  []FreezeLog
	assignments map[uuid.UUID]Assignment
}

func newMemRepo() *memRepo {
	return &memRepo{
		goals:       map[uuid.UUID]Goal{},
		reports:     map[uuid.UUID][]ProgressReport{},
		assignments: map[uuid.UUID]Assignment{},
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) GetGoal(_ context.Context, id uuid.UUID) (*Goal, error) {
	g, ok := m.goals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := g
	return &copied, nil
}

func (m *memRepo) InsertGoal(_ context.Context, g Goal) error {
	m.goals[g.ID] = g
	return nil
}

func (m *memRepo) UpdateGoal(_ context.Context, g *Goal) error {
	if _, ok := m.goals[g.ID]; !ok {
		return ErrNotFound
	}
	m.goals[g.ID] = *g
	return nil
}

func (m *memRepo) DeleteGoal(_ context.Context, id uuid.UUID) error {
	if _, ok := m.goals[id]; !ok {
		return ErrNotFound
	}
	delete(m.goals, id)
	return nil
}

func (m *memRepo) ListChildren(_ context.Context, parentID uuid.UUID) ([]Goal, error) {
	var out []Goal
	for _, g := range m.goals {
		if g.ParentGoalID != nil && *g.ParentGoalID == parentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) CountChildren(ctx context.Context, parentID uuid.UUID) (int, error) {
	children, _ := m.ListChildren(ctx, parentID)
	return len(children), nil
}

func (m *memRepo) ListGoals(_ context.Context, f ListFilter) ([]Goal, error) {
	var out []Goal
	for _, g := range m.goals {
		if f.Kind != nil && g.Kind != *f.Kind {
			continue
		}
		if f.Status != nil && g.Status != *f.Status {
			continue
		}
		if f.OwnerID != nil && (g.OwnerID == nil || *g.OwnerID != *f.OwnerID) {
			continue
		}
		if len(f.OwnerIDs) > 0 {
			matched := false
			for _, id := range f.OwnerIDs {
				if g.OwnerID != nil && *g.OwnerID == id {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if f.CreatedBy != nil && g.CreatedBy != *f.CreatedBy {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) ListByQuarter(_ context.Context, quarter Quarter, year int, frozen *bool) ([]Goal, error) {
	var out []Goal
	for _, g := range m.goals {
		if !g.QuarterScoped() || *g.Quarter != quarter || *g.Year != year {
			continue
		}
		if frozen != nil && g.Frozen != *frozen {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (m *memRepo) SetFrozen(_ context.Context, ids []uuid.UUID, p FreezeParams) (int, error) {
	affected := 0
	for _, id := range ids {
		g, ok := m.goals[id]
		if !ok || g.Frozen == p.Frozen {
			continue
		}
		g.Frozen = p.Frozen
		if p.Frozen {
			at := p.At
			g.FrozenAt = &at
			if p.By != uuid.Nil {
				by := p.By
				g.FrozenBy = &by
			}
			g.ScheduledUnfreezeAt = p.ScheduledUnfreezeAt
		} else {
			g.FrozenAt = nil
			g.FrozenBy = nil
			g.ScheduledUnfreezeAt = nil
		}
		m.goals[id] = g
		affected++
	}
	return affected, nil
}

func (m *memRepo) ListDueForUnfreeze(_ context.Context, now time.Time) ([]Goal, error) {
	var out []Goal
	for _, g := range m.goals {
		if g.Frozen && g.ScheduledUnfreezeAt != nil && !g.ScheduledUnfreezeAt.After(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memRepo) InsertProgressReport(_ context.Context, r ProgressReport) error {
	m.reports[r.GoalID] = append(m.reports[r.GoalID], r)
	return nil
}

func (m *memRepo) ListProgressReports(_ context.Context, goalID uuid.UUID) ([]ProgressReport, error) {
	return m.reports[goalID], nil
}

func (m *memRepo) CountProgressReports(_ context.Context, goalID uuid.UUID) (int, error) {
	return len(m.reports[goalID]), nil
}

func (m *memRepo) InsertFreezeLog(_ context.Context, l FreezeLog) error {
	m.freezeLogs = append(m.freezeLogs, l)
	return nil
}

func (m *memRepo) ListFreezeLogs(_ context.Context, quarter *Quarter, year *int) ([]FreezeLog, error) {
	var out []FreezeLog
	for _, l := range m.freezeLogs {
		if quarter != nil && l.Quarter != *quarter {
			continue
		}
		if year != nil && l.Year != *year {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memRepo) InsertAssignment(_ context.Context, a Assignment) error {
	if _, ok := m.assignments[a.GoalID]; ok {
		return ErrDuplicateAssignment
	}
	m.assignments[a.GoalID] = a
	return nil
}

func (m *memRepo) GetAssignment(_ context.Context, goalID, _ uuid.UUID) (*Assignment, error) {
	a, ok := m.assignments[goalID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := a
	return &copied, nil
}

func (m *memRepo) UpdateAssignment(_ context.Context, a *Assignment) error {
	m.assignments[a.GoalID] = *a
	return nil
}

type stubIdentity struct {
	supervisors map[uuid.UUID]uuid.UUID
	perms       map[uuid.UUID]map[string]bool
}

func (s *stubIdentity) IsSupervisorOf(_ context.Context, actorID, ownerID uuid.UUID) (bool, error) {
	return s.supervisors[ownerID] == actorID, nil
}

func (s *stubIdentity) HasPermission(_ context.Context, actorID uuid.UUID, permission string) (bool, error) {
	return s.perms[actorID][permission], nil
}

func (s *stubIdentity) ListSuperviseeIDs(_ context.Context, supervisorID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for owner, boss := range s.supervisors {
		if boss == supervisorID {
			ids = append(ids, owner)
		}
	}
	return ids, nil
}

type capturedNotifier struct {
	sent []Notification
}

func (c *capturedNotifier) Notify(_ context.Context, n Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

type engineFixture struct {
	repo     *memRepo
	identity *stubIdentity
	notifier *capturedNotifier
	service  *Service
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:     newMemRepo(),
		identity: &stubIdentity{supervisors: map[uuid.UUID]uuid.UUID{}, perms: map[uuid.UUID]map[string]bool{}},
		notifier: &capturedNotifier{},
		now:      time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(ServiceParams{
		Repo:     f.repo,
		Identity: f.identity,
		Notifier: f.notifier,
		Logger:   slog.Default(),
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *engineFixture) grant(actorID uuid.UUID, perms ...string) {
	if f.identity.perms[actorID] == nil {
		f.identity.perms[actorID] = map[string]bool{}
	}
	for _, p := range perms {
		f.identity.perms[actorID][p] = true
	}
}

func (f *engineFixture) seedGoal(t *testing.T, g Goal) Goal {
	t.Helper()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = f.now
	}
	require.NoError(t, f.repo.InsertGoal(context.Background(), g))
	return g
}

func quarterOf(q Quarter) *Quarter { return &q }
func intOf(i int) *int             { return &i }

func TestCreateGoalIndividualStartsPendingApproval(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()

	goal, err := f.service.CreateGoal(context.Background(), Draft{
		Title:   "Close ten deals",
		Kind:    KindIndividual,
		OwnerID: &owner,
		Quarter: quarterOf(Q1),
		Year:    intOf(2026),
	}, owner)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, goal.Status)
	assert.Equal(t, 0, goal.ProgressPercentage)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, NotifyGoalSubmitted, f.notifier.sent[0].Kind)
}

func TestCreateGoalOrganizationalNeedsPermission(t *testing.T) {
	f := newEngineFixture(t)
	actor := uuid.New()
	draft := Draft{Title: "Grow revenue 20%", Kind: KindOrganizationalYearly}

	_, err := f.service.CreateGoal(context.Background(), draft, actor)
	require.ErrorIs(t, err, ErrPermissionDenied)

	f.grant(actor, PermGoalCreateOrganizational)
	goal, err := f.service.CreateGoal(context.Background(), draft, actor)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, goal.Status)
}

func TestCreateGoalRejectsIncompatibleParent(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	leaf := f.seedGoal(t, Goal{
		Title: "Leaf", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.CreateGoal(context.Background(), Draft{
		Title:        "Child of a leaf",
		Kind:         KindIndividual,
		OwnerID:      &owner,
		ParentGoalID: &leaf.ID,
		Quarter:      quarterOf(Q1),
		Year:         intOf(2026),
	}, owner)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "parent_goal_id", verr.Field)
}

func TestAssignGoalRequiresSupervisor(t *testing.T) {
	f := newEngineFixture(t)
	boss := uuid.New()
	report := uuid.New()
	f.identity.supervisors[report] = boss
	draft := Draft{Title: "Assigned goal", Kind: KindIndividual, Quarter: quarterOf(Q2), Year: intOf(2026)}

	_, err := f.service.AssignGoal(context.Background(), draft, report, uuid.New())
	require.ErrorIs(t, err, ErrPermissionDenied)

	goal, err := f.service.AssignGoal(context.Background(), draft, report, boss)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, goal.Status)
	require.NotNil(t, goal.OwnerID)
	assert.Equal(t, report, *goal.OwnerID)

	a, err := f.repo.GetAssignment(context.Background(), goal.ID, report)
	require.NoError(t, err)
	assert.Equal(t, boss, a.AssignedBy)
}

func TestRespondToAssignment(t *testing.T) {
	f := newEngineFixture(t)
	boss := uuid.New()
	report := uuid.New()
	f.identity.supervisors[report] = boss

	goal, err := f.service.AssignGoal(context.Background(), Draft{
		Title: "Assigned", Kind: KindIndividual, Quarter: quarterOf(Q2), Year: intOf(2026),
	}, report, boss)
	require.NoError(t, err)

	// Only the assignee may respond.
	_, err = f.service.RespondToAssignment(context.Background(), goal.ID, true, "", boss)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardNotOwner, terr.Guard)

	// Declining without a message is refused.
	_, err = f.service.RespondToAssignment(context.Background(), goal.ID, false, "  ", report)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardMissingReason, terr.Guard)

	accepted, err := f.service.RespondToAssignment(context.Background(), goal.ID, true, "", report)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, accepted.Status)
	require.NotNil(t, accepted.ApprovedAt)
}

func TestDeclineAssignmentRejectsGoal(t *testing.T) {
	f := newEngineFixture(t)
	boss := uuid.New()
	report := uuid.New()
	f.identity.supervisors[report] = boss

	goal, err := f.service.AssignGoal(context.Background(), Draft{
		Title: "Assigned", Kind: KindIndividual, Quarter: quarterOf(Q2), Year: intOf(2026),
	}, report, boss)
	require.NoError(t, err)

	declined, err := f.service.RespondToAssignment(context.Background(), goal.ID, false, "workload too high", report)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, declined.Status)
	require.NotNil(t, declined.RejectionReason)
	assert.Equal(t, "workload too high", *declined.RejectionReason)
}

func TestApproveGoalSupervisorOrPermission(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	boss := uuid.New()
	f.identity.supervisors[owner] = boss
	goal := f.seedGoal(t, Goal{
		Title: "Pending", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.ApproveGoal(context.Background(), goal.ID, uuid.New())
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardNotSupervisor, terr.Guard)

	approved, err := f.service.ApproveGoal(context.Background(), goal.ID, boss)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, boss, *approved.ApprovedBy)

	// Approving twice fails on status, not on authority.
	_, err = f.service.ApproveGoal(context.Background(), goal.ID, boss)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardBadStatus, terr.Guard)
}

func TestRejectGoalRequiresReason(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	boss := uuid.New()
	f.identity.supervisors[owner] = boss
	goal := f.seedGoal(t, Goal{
		Title: "Pending", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.RejectGoal(context.Background(), goal.ID, "   ", boss)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardMissingReason, terr.Guard)

	rejected, err := f.service.RejectGoal(context.Background(), goal.ID, "scope too broad", boss)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
}

func TestReviseRejectedGoalCreatesNewRecord(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	boss := uuid.New()
	f.identity.supervisors[owner] = boss
	reason := "scope too broad"
	rejected := f.seedGoal(t, Goal{
		Title: "Old attempt", Kind: KindIndividual, Status: StatusRejected,
		OwnerID: &owner, RejectionReason: &reason,
		Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	revision, err := f.service.ReviseGoal(context.Background(), rejected.ID, Draft{
		Title: "Narrower attempt",
	}, owner)
	require.NoError(t, err)

	assert.NotEqual(t, rejected.ID, revision.ID)
	assert.Equal(t, StatusPendingApproval, revision.Status)
	assert.Equal(t, rejected.Kind, revision.Kind)

	// The rejected record keeps its status and reason untouched.
	kept, err := f.repo.GetGoal(context.Background(), rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, kept.Status)
	require.NotNil(t, kept.RejectionReason)

	// Only the owner may revise.
	_, err = f.service.ReviseGoal(context.Background(), rejected.ID, Draft{Title: "x"}, boss)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardNotOwner, terr.Guard)
}

func TestListSuperviseeGoals(t *testing.T) {
	f := newEngineFixture(t)
	boss := uuid.New()
	reportA := uuid.New()
	reportB := uuid.New()
	outsider := uuid.New()
	f.identity.supervisors[reportA] = boss
	f.identity.supervisors[reportB] = boss

	f.seedGoal(t, Goal{
		Title: "A's goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &reportA, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	f.seedGoal(t, Goal{
		Title: "B's goal", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &reportB, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	f.seedGoal(t, Goal{
		Title: "Outsider's goal", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &outsider, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	goals, err := f.service.ListSuperviseeGoals(context.Background(), boss, ListFilter{})
	require.NoError(t, err)
	require.Len(t, goals, 2)
	for _, g := range goals {
		require.NotNil(t, g.OwnerID)
		assert.NotEqual(t, outsider, *g.OwnerID)
	}

	// Filters compose with the ownership narrowing.
	active := StatusActive
	goals, err = f.service.ListSuperviseeGoals(context.Background(), boss, ListFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "A's goal", goals[0].Title)

	// No supervisees means an empty list.
	goals, err = f.service.ListSuperviseeGoals(context.Background(), outsider, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestUpdateGoalEditsDescriptiveFields(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	goal := f.seedGoal(t, Goal{
		Title: "Old title", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, CreatedBy: owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	title := "New title"
	desc := "refined scope"
	start := f.now
	end := f.now.Add(-time.Hour)

	// End before start is rejected before anything persists.
	_, err := f.service.UpdateGoal(context.Background(), goal.ID, GoalEdit{
		Title: &title, StartDate: &start, EndDate: &end,
	}, owner)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end_date", verr.Field)

	end = f.now.Add(48 * time.Hour)
	updated, err := f.service.UpdateGoal(context.Background(), goal.ID, GoalEdit{
		Title: &title, Description: &desc, StartDate: &start, EndDate: &end,
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "refined scope", *updated.Description)
	require.NotNil(t, updated.EndDate)
	assert.Equal(t, end, *updated.EndDate)
}

func TestUpdateGoalGuards(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	goal := f.seedGoal(t, Goal{
		Title: "Guarded", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	title := "Renamed"

	// A stranger without the edit permission is refused.
	_, err := f.service.UpdateGoal(context.Background(), goal.ID, GoalEdit{Title: &title}, uuid.New())
	require.ErrorIs(t, err, ErrPermissionDenied)

	// The edit permission stands in for ownership.
	editor := uuid.New()
	f.grant(editor, PermGoalEdit)
	_, err = f.service.UpdateGoal(context.Background(), goal.ID, GoalEdit{Title: &title}, editor)
	require.NoError(t, err)

	// Terminal goals refuse edits.
	achieved := f.seedGoal(t, Goal{
		Title: "Done", Kind: KindIndividual, Status: StatusAchieved,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	var terr *InvalidTransitionError
	_, err = f.service.UpdateGoal(context.Background(), achieved.ID, GoalEdit{Title: &title}, owner)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardBadStatus, terr.Guard)

	// Frozen goals refuse edits with the lock error.
	admin := uuid.New()
	f.grant(admin, PermGoalFreeze)
	_, err = f.service.FreezeQuarter(context.Background(), Q1, 2026, nil, admin)
	require.NoError(t, err)
	var ferr *FrozenGoalError
	_, err = f.service.UpdateGoal(context.Background(), goal.ID, GoalEdit{Title: &title}, owner)
	require.ErrorAs(t, err, &ferr)
}

func TestUpdateProgressLeafOnly(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	f.grant(owner, PermGoalCreateDepartmental)
	org := uuid.New()
	parent := f.seedGoal(t, Goal{
		Title: "Departmental", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, CreatedBy: owner,
	})
	f.seedGoal(t, Goal{
		Title: "Child", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, ParentGoalID: &parent.ID,
		Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.UpdateProgress(context.Background(), parent.ID, 40, "tried manual update", owner)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardNotLeaf, terr.Guard)
}

func TestUpdateProgressRecordsReportAndCascades(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	creator := uuid.New()
	parent := f.seedGoal(t, Goal{
		Title: "Departmental", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, CreatedBy: creator,
	})
	a := f.seedGoal(t, Goal{
		Title: "Leaf A", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, ParentGoalID: &parent.ID,
		Quarter: quarterOf(Q1), Year: intOf(2026),
		CreatedAt: f.now.Add(-2 * time.Hour),
	})
	f.seedGoal(t, Goal{
		Title: "Leaf B", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, ParentGoalID: &parent.ID,
		Quarter: quarterOf(Q1), Year: intOf(2026),
		CreatedAt: f.now.Add(-time.Hour),
	})

	result, err := f.service.UpdateProgress(context.Background(), a.ID, 50, "halfway", owner)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Goal.ProgressPercentage)
	assert.False(t, result.AchievementEligible)
	assert.Equal(t, 0, result.Report.OldPercentage)
	assert.Equal(t, 50, result.Report.NewPercentage)

	// Parent mean: (50 + 0) / 2 = 25.
	p, err := f.repo.GetGoal(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, p.ProgressPercentage)

	// Reaching 100 flags eligibility but does not flip status.
	result, err = f.service.UpdateProgress(context.Background(), a.ID, 100, "done", owner)
	require.NoError(t, err)
	assert.True(t, result.AchievementEligible)
	assert.Equal(t, StatusActive, result.Goal.Status)

	reports, err := f.repo.ListProgressReports(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestUpdateProgressValidation(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	leaf := f.seedGoal(t, Goal{
		Title: "Leaf", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	var verr *ValidationError
	_, err := f.service.UpdateProgress(context.Background(), leaf.ID, 101, "too much", owner)
	require.ErrorAs(t, err, &verr)

	_, err = f.service.UpdateProgress(context.Background(), leaf.ID, 50, "   ", owner)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "report", verr.Field)

	// Non-active goals refuse progress updates.
	pending := f.seedGoal(t, Goal{
		Title: "Pending", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	_, err = f.service.UpdateProgress(context.Background(), pending.ID, 10, "early", owner)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, GuardBadStatus, terr.Guard)
}

func TestMarkAchievedAutoAchievesAncestors(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	root := f.seedGoal(t, Goal{
		Title: "Org quarterly", Kind: KindOrganizationalQuarterly, Status: StatusActive,
		Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	dept := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, ParentGoalID: &root.ID,
	})
	a := f.seedGoal(t, Goal{
		Title: "Leaf A", Kind: KindIndividual, Status: StatusAchieved, ProgressPercentage: 100,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	_ = a
	b := f.seedGoal(t, Goal{
		Title: "Leaf B", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 100,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	achieved, err := f.service.MarkAchieved(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, achieved.Status)
	require.NotNil(t, achieved.AchievedAt)

	// Both ancestors auto-achieve: dept because all leaves achieved, root
	// because dept was its only child.
	d, _ := f.repo.GetGoal(context.Background(), dept.ID)
	assert.Equal(t, StatusAchieved, d.Status)
	r, _ := f.repo.GetGoal(context.Background(), root.ID)
	assert.Equal(t, StatusAchieved, r.Status)

	var autoNotes int
	for _, n := range f.notifier.sent {
		if n.Kind == NotifyAutoAchieved {
			autoNotes++
		}
	}
	assert.Equal(t, 2, autoNotes)
}

func TestMarkAchievedStopsAtUnachievedSibling(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	dept := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org,
	})
	a := f.seedGoal(t, Goal{
		Title: "Leaf A", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 100,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	f.seedGoal(t, Goal{
		Title: "Leaf B", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 30,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.MarkAchieved(context.Background(), a.ID, owner)
	require.NoError(t, err)

	d, _ := f.repo.GetGoal(context.Background(), dept.ID)
	assert.Equal(t, StatusActive, d.Status)
	// Progress still recomputed: (100 + 30) / 2 = 65.
	assert.Equal(t, 65, d.ProgressPercentage)
}

func TestMarkAchievedRefreshesProgressAboveAutoAchievedParent(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	grand := f.seedGoal(t, Goal{
		Title: "Org yearly", Kind: KindOrganizationalYearly, Status: StatusActive, ProgressPercentage: 25,
	})
	dept := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org,
		ParentGoalID: &grand.ID, ProgressPercentage: 50,
	})
	f.seedGoal(t, Goal{
		Title: "Other leaf", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 0,
		OwnerID: &owner, ParentGoalID: &grand.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	leaf := f.seedGoal(t, Goal{
		Title: "Leaf", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 50,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	_, err := f.service.MarkAchieved(context.Background(), leaf.ID, owner)
	require.NoError(t, err)

	// The department auto-achieves off its only leaf; the yearly goal has
	// an unachieved child left, so it stays ACTIVE but its mean must pick
	// up the department's jump to 100: round((100 + 0) / 2) = 50.
	d, _ := f.repo.GetGoal(context.Background(), dept.ID)
	assert.Equal(t, StatusAchieved, d.Status)
	assert.Equal(t, 100, d.ProgressPercentage)
	g, _ := f.repo.GetGoal(context.Background(), grand.ID)
	assert.Equal(t, StatusActive, g.Status)
	assert.Equal(t, 50, g.ProgressPercentage)
}

func TestDiscardDropsGoalFromParentAggregation(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	dept := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org,
	})
	a := f.seedGoal(t, Goal{
		Title: "Leaf A", Kind: KindIndividual, Status: StatusAchieved, ProgressPercentage: 100,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	_ = a
	b := f.seedGoal(t, Goal{
		Title: "Leaf B", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 20,
		OwnerID: &owner, ParentGoalID: &dept.ID, Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	discarded, err := f.service.DiscardGoal(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, discarded.Status)
	require.NotNil(t, discarded.DiscardedAt)

	// Only the achieved leaf counts now: mean is 100.
	d, _ := f.repo.GetGoal(context.Background(), dept.ID)
	assert.Equal(t, 100, d.ProgressPercentage)
}

func TestReparentRefusesIncompatibleKinds(t *testing.T) {
	f := newEngineFixture(t)
	actor := uuid.New()
	f.grant(actor, PermGoalEdit)
	root := f.seedGoal(t, Goal{
		Title: "Root", Kind: KindOrganizationalYearly, Status: StatusActive, CreatedBy: actor,
	})
	org := uuid.New()
	dept := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, ParentGoalID: &root.ID, CreatedBy: actor,
	})

	// A departmental goal can never parent an organizational one; the
	// kind check also rules out the cycle this move would create.
	_, err := f.service.Reparent(context.Background(), root.ID, &dept.ID, actor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "parent_goal_id", verr.Field)
}

func TestReparentMovesAndRecomputes(t *testing.T) {
	f := newEngineFixture(t)
	actor := uuid.New()
	f.grant(actor, PermGoalEdit)
	org := uuid.New()
	oldParent := f.seedGoal(t, Goal{
		Title: "Old dept", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, CreatedBy: actor,
	})
	newParent := f.seedGoal(t, Goal{
		Title: "New dept", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, CreatedBy: actor,
	})
	leaf := f.seedGoal(t, Goal{
		Title: "Leaf", Kind: KindIndividual, Status: StatusActive, ProgressPercentage: 80,
		OwnerID: &actor, ParentGoalID: &oldParent.ID,
		Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	moved, err := f.service.Reparent(context.Background(), leaf.ID, &newParent.ID, actor)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentGoalID)
	assert.Equal(t, newParent.ID, *moved.ParentGoalID)

	np, _ := f.repo.GetGoal(context.Background(), newParent.ID)
	assert.Equal(t, 80, np.ProgressPercentage)
}

func TestDeleteGoalRules(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	org := uuid.New()
	parent := f.seedGoal(t, Goal{
		Title: "Dept", Kind: KindDepartmental, Status: StatusActive,
		OrganizationID: &org, CreatedBy: owner,
	})
	leaf := f.seedGoal(t, Goal{
		Title: "Leaf", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, ParentGoalID: &parent.ID,
		Quarter: quarterOf(Q1), Year: intOf(2026),
	})

	// A parent with children cannot be deleted.
	err := f.service.DeleteGoal(context.Background(), parent.ID, owner)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// A leaf with progress reports cannot be deleted.
	_, err = f.service.UpdateProgress(context.Background(), leaf.ID, 10, "started", owner)
	require.NoError(t, err)
	err = f.service.DeleteGoal(context.Background(), leaf.ID, owner)
	require.ErrorAs(t, err, &verr)

	// A pristine leaf can.
	fresh := f.seedGoal(t, Goal{
		Title: "Fresh", Kind: KindIndividual, Status: StatusPendingApproval,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
	})
	require.NoError(t, f.service.DeleteGoal(context.Background(), fresh.ID, owner))
	_, err = f.repo.GetGoal(context.Background(), fresh.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFrozenGoalRefusesMutations(t *testing.T) {
	f := newEngineFixture(t)
	owner := uuid.New()
	frozenAt := f.now.Add(-time.Hour)
	leaf := f.seedGoal(t, Goal{
		Title: "Frozen leaf", Kind: KindIndividual, Status: StatusActive,
		OwnerID: &owner, Quarter: quarterOf(Q1), Year: intOf(2026),
		Frozen: true, FrozenAt: &frozenAt,
	})

	var ferr *FrozenGoalError
	_, err := f.service.UpdateProgress(context.Background(), leaf.ID, 10, "attempt", owner)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, leaf.ID, ferr.GoalID)

	_, err = f.service.MarkAchieved(context.Background(), leaf.ID, owner)
	require.ErrorAs(t, err, &ferr)

	err = f.service.DeleteGoal(context.Background(), leaf.ID, owner)
	require.ErrorAs(t, err, &ferr)

	// The error is not an InvalidTransitionError: callers distinguish
	// locked goals from illegal transitions.
	var terr *InvalidTransitionError
	_, err = f.service.MarkAchieved(context.Background(), leaf.ID, owner)
	require.False(t, errors.As(err, &terr))
}
