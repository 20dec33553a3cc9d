package goals

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Cascader propagates progress and achievement changes from a child goal
// up its parent chain. Traversal assumes an acyclic forest (enforced at
// creation and re-parenting) and terminates at a goal with no parent.
type Cascader struct {
	logger *slog.Logger
}

// NewCascader constructs a Cascader.
func NewCascader(logger *slog.Logger) *Cascader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascader{logger: logger}
}

// OnChildProgressChanged recomputes each ancestor's derived progress until
// a recomputation produces no change or the root is reached. Derivation is
// idempotent, so recomputing an ancestor more than once within a bulk
// operation is wasteful but never wrong.
func (c *Cascader) OnChildProgressChanged(ctx context.Context, repo Repository, childID uuid.UUID) error {
	child, err := repo.GetGoal(ctx, childID)
	if err != nil {
		return err
	}
	parentID := child.ParentGoalID
	seen := map[uuid.UUID]bool{child.ID: true}
	for parentID != nil {
		if seen[*parentID] {
			c.logger.Error("cascade aborted on parent chain loop", slog.String("goal_id", parentID.String()))
			return &CycleDetectedError{GoalID: childID, ParentID: *parentID}
		}
		seen[*parentID] = true

		parent, err := repo.GetGoal(ctx, *parentID)
		if err != nil {
			return err
		}
		children, err := repo.ListChildren(ctx, parent.ID)
		if err != nil {
			return err
		}
		derived := DeriveProgress(parent, children)
		if derived == parent.ProgressPercentage {
			return nil
		}
		parent.ProgressPercentage = derived
		if err := repo.UpdateGoal(ctx, parent); err != nil {
			return err
		}
		parentID = parent.ParentGoalID
	}
	return nil
}

// OnChildStatusChanged handles achievement and discard propagation. When a
// child reaches ACHIEVED and all its non-discarded siblings are achieved
// too, the parent moves ACTIVE -> ACHIEVED and the check repeats upward.
// The returned goals were auto-achieved, oldest ancestor last, so the
// caller can emit AutoAchieved notifications distinct from manual ones.
// A DISCARDED child only triggers a progress recompute: it drops out of
// both the mean and the achievement check.
func (c *Cascader) OnChildStatusChanged(ctx context.Context, repo Repository, childID uuid.UUID, newStatus GoalStatus, now time.Time) ([]Goal, error) {
	child, err := repo.GetGoal(ctx, childID)
	if err != nil {
		return nil, err
	}

	switch newStatus {
	case StatusDiscarded:
		return nil, c.OnChildProgressChanged(ctx, repo, childID)
	case StatusAchieved:
		// fall through to the sibling check below
	default:
		return nil, nil
	}

	var autoAchieved []Goal
	lastUpdated := child.ID
	parentID := child.ParentGoalID
	seen := map[uuid.UUID]bool{child.ID: true}
	for parentID != nil {
		if seen[*parentID] {
			return autoAchieved, &CycleDetectedError{GoalID: childID, ParentID: *parentID}
		}
		seen[*parentID] = true

		parent, err := repo.GetGoal(ctx, *parentID)
		if err != nil {
			return autoAchieved, err
		}
		children, err := repo.ListChildren(ctx, parent.ID)
		if err != nil {
			return autoAchieved, err
		}
		if parent.Status != StatusActive || !allAchieved(children) {
			// The ancestors walked so far already hold their derived
			// values, so the progress refresh must resume from the last
			// goal this loop rewrote, not from the original child.
			return autoAchieved, c.OnChildProgressChanged(ctx, repo, lastUpdated)
		}

		at := now
		parent.Status = StatusAchieved
		parent.AchievedAt = &at
		parent.ProgressPercentage = DeriveProgress(parent, children)
		if err := repo.UpdateGoal(ctx, parent); err != nil {
			return autoAchieved, err
		}
		c.logger.Info("goal auto-achieved",
			slog.String("goal_id", parent.ID.String()),
			slog.String("trigger_goal_id", childID.String()))
		autoAchieved = append(autoAchieved, *parent)
		lastUpdated = parent.ID
		parentID = parent.ParentGoalID
	}
	return autoAchieved, nil
}

// WouldCreateCycle reports whether attaching goalID under parentID loops
// the hierarchy, by walking the parent chain from parentID to the root.
func (c *Cascader) WouldCreateCycle(ctx context.Context, repo Repository, goalID, parentID uuid.UUID) (bool, error) {
	if goalID == parentID {
		return true, nil
	}
	seen := map[uuid.UUID]bool{}
	cursor := &parentID
	for cursor != nil {
		if *cursor == goalID {
			return true, nil
		}
		if seen[*cursor] {
			return true, nil
		}
		seen[*cursor] = true
		g, err := repo.GetGoal(ctx, *cursor)
		if err != nil {
			return false, err
		}
		cursor = g.ParentGoalID
	}
	return false, nil
}

func allAchieved(children []Goal) bool {
	counted := 0
	for i := range children {
		if children[i].Status == StatusDiscarded {
			continue
		}
		if children[i].Status != StatusAchieved {
			return false
		}
		counted++
	}
	return counted > 0
}
