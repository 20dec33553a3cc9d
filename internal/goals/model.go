package goals

import (
	"time"

	"github.com/google/uuid"
)

// GoalKind classifies a goal and fixes which fields are mandatory and where
// the goal may sit in the hierarchy. Immutable after creation.
type GoalKind string

const (
	KindOrganizationalYearly    GoalKind = "ORGANIZATIONAL_YEARLY"
	KindOrganizationalQuarterly GoalKind = "ORGANIZATIONAL_QUARTERLY"
	KindDepartmental            GoalKind = "DEPARTMENTAL"
	KindIndividual              GoalKind = "INDIVIDUAL"
)

// GoalStatus enumerates lifecycle states. ACHIEVED and DISCARDED are
// terminal; REJECTED only leads to a new revision record, never back to
// the same row.
type GoalStatus string

const (
	StatusPendingApproval GoalStatus = "PENDING_APPROVAL"
	StatusAssigned        GoalStatus = "ASSIGNED"
	StatusActive          GoalStatus = "ACTIVE"
	StatusAchieved        GoalStatus = "ACHIEVED"
	StatusRejected        GoalStatus = "REJECTED"
	StatusDiscarded       GoalStatus = "DISCARDED"
)

// Terminal reports whether no further transition may leave the status.
func (s GoalStatus) Terminal() bool {
	return s == StatusAchieved || s == StatusDiscarded
}

// Quarter identifies one calendar quarter.
type Quarter string

const (
	Q1 Quarter = "Q1"
	Q2 Quarter = "Q2"
	Q3 Quarter = "Q3"
	Q4 Quarter = "Q4"
)

// Valid reports whether q is one of Q1..Q4.
func (q Quarter) Valid() bool {
	switch q {
	case Q1, Q2, Q3, Q4:
		return true
	}
	return false
}

// Goal is the central entity. ParentGoalID is a weak reference: the engine
// resolves children through the repository index and a goal never owns its
// parent or children.
type Goal struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description *string   `json:"description,omitempty" db:"description"`
	Kind        GoalKind  `json:"kind" db:"kind"`

	OwnerID        *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty" db:"organization_id"`
	CreatedBy      uuid.UUID  `json:"created_by" db:"created_by"`
	ParentGoalID   *uuid.UUID `json:"parent_goal_id,omitempty" db:"parent_goal_id"`

	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	Quarter   *Quarter   `json:"quarter,omitempty" db:"quarter"`
	Year      *int       `json:"year,omitempty" db:"year"`

	Status GoalStatus `json:"status" db:"status"`

	// ProgressPercentage is derived for goals with children and directly
	// settable (via UpdateProgress) only for leaf goals.
	ProgressPercentage int `json:"progress_percentage" db:"progress_percentage"`

	Frozen              bool       `json:"frozen" db:"frozen"`
	FrozenAt            *time.Time `json:"frozen_at,omitempty" db:"frozen_at"`
	FrozenBy            *uuid.UUID `json:"frozen_by,omitempty" db:"frozen_by"`
	ScheduledUnfreezeAt *time.Time `json:"scheduled_unfreeze_at,omitempty" db:"scheduled_unfreeze_at"`

	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	RejectionReason *string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	AchievedAt      *time.Time `json:"achieved_at,omitempty" db:"achieved_at"`
	DiscardedAt     *time.Time `json:"discarded_at,omitempty" db:"discarded_at"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// QuarterScoped reports whether the goal carries a (quarter, year) pair and
// therefore participates in quarter freezes.
func (g *Goal) QuarterScoped() bool {
	return g.Quarter != nil && g.Year != nil
}

// ProgressReport is the append-only audit record for a manual progress
// update on a leaf goal. Never mutated or deleted.
type ProgressReport struct {
	ID            uuid.UUID `json:"id" db:"id"`
	GoalID        uuid.UUID `json:"goal_id" db:"goal_id"`
	OldPercentage int       `json:"old_percentage" db:"old_percentage"`
	NewPercentage int       `json:"new_percentage" db:"new_percentage"`
	Report        string    `json:"report" db:"report"`
	UpdatedBy     uuid.UUID `json:"updated_by" db:"updated_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// FreezeAction distinguishes the two freeze log entries.
type FreezeAction string

const (
	FreezeActionFreeze   FreezeAction = "freeze"
	FreezeActionUnfreeze FreezeAction = "unfreeze"
)

// FreezeLog is the immutable audit record of a quarter freeze or unfreeze.
type FreezeLog struct {
	ID                  uuid.UUID    `json:"id" db:"id"`
	Action              FreezeAction `json:"action" db:"action"`
	Quarter             Quarter      `json:"quarter" db:"quarter"`
	Year                int          `json:"year" db:"year"`
	AffectedGoalsCount  int          `json:"affected_goals_count" db:"affected_goals_count"`
	ScheduledUnfreezeAt *time.Time   `json:"scheduled_unfreeze_at,omitempty" db:"scheduled_unfreeze_at"`
	IsEmergencyOverride bool         `json:"is_emergency_override" db:"is_emergency_override"`
	EmergencyReason     *string      `json:"emergency_reason,omitempty" db:"emergency_reason"`
	PerformedBy         uuid.UUID    `json:"performed_by" db:"performed_by"`
	PerformedAt         time.Time    `json:"performed_at" db:"performed_at"`
}

// Assignment tracks a supervisor-assigned goal awaiting the owner's
// accept/decline response.
type Assignment struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	GoalID          uuid.UUID  `json:"goal_id" db:"goal_id"`
	AssignedBy      uuid.UUID  `json:"assigned_by" db:"assigned_by"`
	AssignedTo      uuid.UUID  `json:"assigned_to" db:"assigned_to"`
	Status          GoalStatus `json:"status" db:"status"`
	ResponseMessage *string    `json:"response_message,omitempty" db:"response_message"`
	AssignedAt      time.Time  `json:"assigned_at" db:"assigned_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty" db:"responded_at"`
}

// Stats aggregates goal counts for dashboards.
type Stats struct {
	TotalGoals      int            `json:"total_goals"`
	ByKind          map[string]int `json:"by_kind"`
	ByStatus        map[string]int `json:"by_status"`
	AverageProgress float64        `json:"average_progress"`
	OverdueGoals    int            `json:"overdue_goals"`
}

// HierarchyNode is a goal with its resolved children, used by the
// hierarchy read model.
type HierarchyNode struct {
	Goal     Goal            `json:"goal"`
	Children []HierarchyNode `json:"children,omitempty"`
}
