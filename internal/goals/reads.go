package goals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// GetGoal fetches one goal.
func (s *Service) GetGoal(ctx context.Context, id uuid.UUID) (*Goal, error) {
	return s.repo.GetGoal(ctx, id)
}

// ListGoals lists goals per filter.
func (s *Service) ListGoals(ctx context.Context, f ListFilter) ([]Goal, error) {
	return s.repo.ListGoals(ctx, f)
}

// ListSuperviseeGoals lists goals owned by the actor's direct reports,
// further narrowed by the filter. An actor with no supervisees gets an
// empty list, not an error.
func (s *Service) ListSuperviseeGoals(ctx context.Context, actorID uuid.UUID, f ListFilter) ([]Goal, error) {
	ids, err := s.identity.ListSuperviseeIDs(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Goal{}, nil
	}
	f.OwnerIDs = ids
	return s.repo.ListGoals(ctx, f)
}

// ListChildren lists the direct children of a goal.
func (s *Service) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Goal, error) {
	if _, err := s.repo.GetGoal(ctx, parentID); err != nil {
		return nil, err
	}
	return s.repo.ListChildren(ctx, parentID)
}

// ListProgressReports returns the append-only progress trail of a goal,
// oldest first.
func (s *Service) ListProgressReports(ctx context.Context, goalID uuid.UUID) ([]ProgressReport, error) {
	if _, err := s.repo.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	return s.repo.ListProgressReports(ctx, goalID)
}

// ListFreezeLogs returns freeze/unfreeze history, optionally narrowed to a
// quarter and year. Visible to everyone for transparency.
func (s *Service) ListFreezeLogs(ctx context.Context, quarter *Quarter, year *int) ([]FreezeLog, error) {
	return s.repo.ListFreezeLogs(ctx, quarter, year)
}

// GoalDetail bundles a goal with its children and progress trail.
type GoalDetail struct {
	Goal     Goal             `json:"goal"`
	Children []Goal           `json:"children"`
	Reports  []ProgressReport `json:"reports"`
}

// GetGoalDetail loads the goal, its children and its progress reports
// concurrently.
func (s *Service) GetGoalDetail(ctx context.Context, id uuid.UUID) (*GoalDetail, error) {
	goal, err := s.repo.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := GoalDetail{Goal: *goal}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		children, err := s.repo.ListChildren(ctx, id)
		if err != nil {
			return err
		}
		detail.Children = children
		return nil
	})
	g.Go(func() error {
		reports, err := s.repo.ListProgressReports(ctx, id)
		if err != nil {
			return err
		}
		detail.Reports = reports
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetHierarchy builds the nested goal tree rooted at id. Traversal keeps a
// visited set so corrupt parent data cannot loop forever.
func (s *Service) GetHierarchy(ctx context.Context, id uuid.UUID) (*HierarchyNode, error) {
	seen := map[uuid.UUID]bool{}
	return s.buildHierarchy(ctx, id, seen)
}

func (s *Service) buildHierarchy(ctx context.Context, id uuid.UUID, seen map[uuid.UUID]bool) (*HierarchyNode, error) {
	if seen[id] {
		return nil, &CycleDetectedError{GoalID: id, ParentID: id}
	}
	seen[id] = true

	goal, err := s.repo.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.repo.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	node := HierarchyNode{Goal: *goal}
	for i := range children {
		child, err := s.buildHierarchy(ctx, children[i].ID, seen)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, *child)
	}
	return &node, nil
}

// GetStats aggregates counts by kind and status, the average progress,
// and the number of overdue active goals at now. The clock is injected so
// dashboards and tests agree on "overdue".
func (s *Service) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	all, err := s.repo.ListGoals(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	stats := Stats{
		TotalGoals: len(all),
		ByKind:     map[string]int{},
		ByStatus:   map[string]int{},
	}
	progressSum := 0
	for i := range all {
		g := all[i]
		stats.ByKind[string(g.Kind)]++
		stats.ByStatus[string(g.Status)]++
		progressSum += g.ProgressPercentage
		if g.Status == StatusActive && g.EndDate != nil && g.EndDate.Before(now) {
			stats.OverdueGoals++
		}
	}
	if len(all) > 0 {
		stats.AverageProgress = float64(progressSum) / float64(len(all))
	}
	return &stats, nil
}
