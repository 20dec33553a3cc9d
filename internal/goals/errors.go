package goals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates a referenced goal or related record does not exist.
var ErrNotFound = errors.New("goals: not found")

// Guard names surfaced inside InvalidTransitionError so callers can tell
// which precondition failed.
const (
	GuardNotOwner      = "not-owner"
	GuardNotSupervisor = "not-supervisor"
	GuardNotLeaf       = "not-leaf"
	GuardMissingReason = "missing-reason"
	GuardBadStatus     = "bad-status"
	GuardOutOfRange    = "percentage-out-of-range"
	GuardNoPermission  = "missing-permission"
)

// ValidationError reports a malformed or kind-inconsistent draft. Never
// retried; the draft itself must change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("goals: invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status change not permitted from the
// current state or by the current actor, naming the offending guard.
type InvalidTransitionError struct {
	From  GoalStatus
	Event string
	Guard string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("goals: cannot %s from %s: %s", e.Event, e.From, e.Guard)
}

// FrozenGoalError reports a mutation attempted on a frozen goal. Kept
// distinct from InvalidTransitionError so the API layer can render a
// "goal is locked" response.
type FrozenGoalError struct {
	GoalID   uuid.UUID
	FrozenAt *time.Time
}

func (e *FrozenGoalError) Error() string {
	if e.FrozenAt != nil {
		return fmt.Sprintf("goals: goal %s frozen since %s", e.GoalID, e.FrozenAt.Format("2006-01-02"))
	}
	return fmt.Sprintf("goals: goal %s is frozen", e.GoalID)
}

// CycleDetectedError reports a parent assignment that would loop the
// hierarchy. Raised before any state is persisted.
type CycleDetectedError struct {
	GoalID   uuid.UUID
	ParentID uuid.UUID
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("goals: parent %s is a descendant of goal %s", e.ParentID, e.GoalID)
}
