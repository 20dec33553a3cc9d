package goals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnChildProgressChangedStopsAtFixedPoint(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	org := uuid.New()

	root := Goal{ID: uuid.New(), Title: "Root", Kind: KindOrganizationalYearly, Status: StatusActive}
	dept := Goal{ID: uuid.New(), Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org, ParentGoalID: &root.ID}
	a := Goal{ID: uuid.New(), Title: "A", Kind: KindIndividual, Status: StatusActive, ParentGoalID: &dept.ID, ProgressPercentage: 60}
	b := Goal{ID: uuid.New(), Title: "B", Kind: KindIndividual, Status: StatusActive, ParentGoalID: &dept.ID, ProgressPercentage: 30}
	for _, g := range []Goal{root, dept, a, b} {
		require.NoError(t, repo.InsertGoal(ctx, g))
	}

	c := NewCascader(nil)
	require.NoError(t, c.OnChildProgressChanged(ctx, repo, a.ID))

	d, _ := repo.GetGoal(ctx, dept.ID)
	assert.Equal(t, 45, d.ProgressPercentage)
	r, _ := repo.GetGoal(ctx, root.ID)
	assert.Equal(t, 45, r.ProgressPercentage)

	// Rerunning with no underlying change touches nothing.
	require.NoError(t, c.OnChildProgressChanged(ctx, repo, a.ID))
	d, _ = repo.GetGoal(ctx, dept.ID)
	assert.Equal(t, 45, d.ProgressPercentage)
}

func TestDeriveProgressRounding(t *testing.T) {
	parent := &Goal{Kind: KindDepartmental, ProgressPercentage: 7}
	children := []Goal{
		{Status: StatusActive, ProgressPercentage: 33},
		{Status: StatusActive, ProgressPercentage: 34},
		{Status: StatusActive, ProgressPercentage: 34},
	}
	// 101/3 = 33.67 rounds to 34.
	assert.Equal(t, 34, DeriveProgress(parent, children))

	// Discarded children drop out of the mean: (33+34)/2 = 33.5 rounds to 34.
	children[2].Status = StatusDiscarded
	assert.Equal(t, 34, DeriveProgress(parent, children))

	// All children discarded: the stored value stands.
	for i := range children {
		children[i].Status = StatusDiscarded
	}
	assert.Equal(t, 7, DeriveProgress(parent, children))
}

func TestOnChildStatusChangedRequiresAllSiblingsAchieved(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	org := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dept := Goal{ID: uuid.New(), Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org}
	a := Goal{ID: uuid.New(), Title: "A", Kind: KindIndividual, Status: StatusAchieved, ParentGoalID: &dept.ID, ProgressPercentage: 100}
	b := Goal{ID: uuid.New(), Title: "B", Kind: KindIndividual, Status: StatusDiscarded, ParentGoalID: &dept.ID}
	for _, g := range []Goal{dept, a, b} {
		require.NoError(t, repo.InsertGoal(ctx, g))
	}

	// Discarded siblings are ignored, so the parent auto-achieves off the
	// single achieved child.
	c := NewCascader(nil)
	auto, err := c.OnChildStatusChanged(ctx, repo, a.ID, StatusAchieved, now)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, dept.ID, auto[0].ID)
	assert.Equal(t, StatusAchieved, auto[0].Status)
	require.NotNil(t, auto[0].AchievedAt)
	assert.Equal(t, now, *auto[0].AchievedAt)
}

func TestOnChildStatusChangedAllChildrenDiscardedNoAutoAchieve(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	org := uuid.New()
	now := time.Now()

	dept := Goal{ID: uuid.New(), Title: "Dept", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org, ProgressPercentage: 40}
	a := Goal{ID: uuid.New(), Title: "A", Kind: KindIndividual, Status: StatusDiscarded, ParentGoalID: &dept.ID}
	for _, g := range []Goal{dept, a} {
		require.NoError(t, repo.InsertGoal(ctx, g))
	}

	c := NewCascader(nil)
	auto, err := c.OnChildStatusChanged(ctx, repo, a.ID, StatusDiscarded, now)
	require.NoError(t, err)
	assert.Empty(t, auto)

	// Zero counted children: parent keeps its own progress and status.
	d, _ := repo.GetGoal(ctx, dept.ID)
	assert.Equal(t, StatusActive, d.Status)
	assert.Equal(t, 40, d.ProgressPercentage)
}

func TestOnChildStatusChangedRefreshesAncestorsAboveAutoAchieved(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	org := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	grand := Goal{ID: uuid.New(), Title: "Grand", Kind: KindOrganizationalYearly, Status: StatusActive, ProgressPercentage: 25}
	parent := Goal{ID: uuid.New(), Title: "Parent", Kind: KindDepartmental, Status: StatusActive, OrganizationID: &org, ParentGoalID: &grand.ID, ProgressPercentage: 50}
	sibling := Goal{ID: uuid.New(), Title: "Sibling", Kind: KindIndividual, Status: StatusActive, ParentGoalID: &grand.ID, ProgressPercentage: 0}
	child := Goal{ID: uuid.New(), Title: "Child", Kind: KindIndividual, Status: StatusAchieved, ParentGoalID: &parent.ID, ProgressPercentage: 100}
	for _, g := range []Goal{grand, parent, sibling, child} {
		require.NoError(t, repo.InsertGoal(ctx, g))
	}

	c := NewCascader(nil)
	auto, err := c.OnChildStatusChanged(ctx, repo, child.ID, StatusAchieved, now)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, parent.ID, auto[0].ID)

	// The parent auto-achieved to 100; the grandparent stays ACTIVE but
	// its mean must pick up the parent's new value: round((100+0)/2) = 50.
	p, _ := repo.GetGoal(ctx, parent.ID)
	assert.Equal(t, StatusAchieved, p.Status)
	assert.Equal(t, 100, p.ProgressPercentage)
	g, _ := repo.GetGoal(ctx, grand.ID)
	assert.Equal(t, StatusActive, g.Status)
	assert.Equal(t, 50, g.ProgressPercentage)
}

func TestWouldCreateCycle(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()

	root := Goal{ID: uuid.New(), Title: "Root", Kind: KindOrganizationalYearly, Status: StatusActive}
	mid := Goal{ID: uuid.New(), Title: "Mid", Kind: KindDepartmental, Status: StatusActive, ParentGoalID: &root.ID}
	leaf := Goal{ID: uuid.New(), Title: "Leaf", Kind: KindIndividual, Status: StatusActive, ParentGoalID: &mid.ID}
	for _, g := range []Goal{root, mid, leaf} {
		require.NoError(t, repo.InsertGoal(ctx, g))
	}

	c := NewCascader(nil)

	cyclic, err := c.WouldCreateCycle(ctx, repo, root.ID, leaf.ID)
	require.NoError(t, err)
	assert.True(t, cyclic, "attaching root under its descendant must loop")

	cyclic, err = c.WouldCreateCycle(ctx, repo, mid.ID, mid.ID)
	require.NoError(t, err)
	assert.True(t, cyclic, "self-parenting is the trivial cycle")

	other := Goal{ID: uuid.New(), Title: "Other", Kind: KindOrganizationalYearly, Status: StatusActive}
	require.NoError(t, repo.InsertGoal(ctx, other))
	cyclic, err = c.WouldCreateCycle(ctx, repo, leaf.ID, other.ID)
	require.NoError(t, err)
	assert.False(t, cyclic)
}
