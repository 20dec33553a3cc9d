package goals

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract the engine mutates goals through.
// Implementations must return ErrNotFound for missing records.
type Repository interface {
	// WithTx runs fn against a transactional view of the repository. The
	// engine relies on this for bulk freeze/unfreeze atomicity and for
	// keeping a mutation and its cascade in one unit.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	GetGoal(ctx context.Context, id uuid.UUID) (*Goal, error)
	InsertGoal(ctx context.Context, g Goal) error
	UpdateGoal(ctx context.Context, g *Goal) error
	DeleteGoal(ctx context.Context, id uuid.UUID) error

	ListChildren(ctx context.Context, parentID uuid.UUID) ([]Goal, error)
	CountChildren(ctx context.Context, parentID uuid.UUID) (int, error)
	ListGoals(ctx context.Context, f ListFilter) ([]Goal, error)

	// ListByQuarter returns quarter-scoped goals matching (quarter, year),
	// optionally narrowed by frozen state.
	ListByQuarter(ctx context.Context, quarter Quarter, year int, frozen *bool) ([]Goal, error)
	// SetFrozen flips the frozen flag on the given goals and returns how
	// many rows changed.
	SetFrozen(ctx context.Context, ids []uuid.UUID, p FreezeParams) (int, error)
	ListDueForUnfreeze(ctx context.Context, now time.Time) ([]Goal, error)

	InsertProgressReport(ctx context.Context, r ProgressReport) error
	ListProgressReports(ctx context.Context, goalID uuid.UUID) ([]ProgressReport, error)
	CountProgressReports(ctx context.Context, goalID uuid.UUID) (int, error)

	InsertFreezeLog(ctx context.Context, l FreezeLog) error
	ListFreezeLogs(ctx context.Context, quarter *Quarter, year *int) ([]FreezeLog, error)

	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, goalID, assignedTo uuid.UUID) (*Assignment, error)
	UpdateAssignment(ctx context.Context, a *Assignment) error
}

// FreezeParams carries the freeze-flag update applied by SetFrozen.
type FreezeParams struct {
	Frozen              bool
	At                  time.Time
	By                  uuid.UUID
	ScheduledUnfreezeAt *time.Time
}

// ListFilter narrows ListGoals. Zero values mean no filtering. OwnerIDs
// matches any of the given owners and composes with the other fields.
type ListFilter struct {
	Kind      *GoalKind
	Status    *GoalStatus
	OwnerID   *uuid.UUID
	OwnerIDs  []uuid.UUID
	CreatedBy *uuid.UUID
	Limit     int
	Offset    int
}
