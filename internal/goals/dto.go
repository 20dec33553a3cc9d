package goals

import (
	"time"

	"github.com/google/uuid"
)

type CreateGoalRequest struct {
	Title              string     `json:"title" validate:"required,min=1,max=1000"`
	Description        *string    `json:"description,omitempty"`
	Kind               GoalKind   `json:"kind" validate:"required"`
	OwnerID            *uuid.UUID `json:"owner_id,omitempty"`
	OrganizationID     *uuid.UUID `json:"organization_id,omitempty"`
	ParentGoalID       *uuid.UUID `json:"parent_goal_id,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	Quarter            *Quarter   `json:"quarter,omitempty"`
	Year               *int       `json:"year,omitempty" validate:"omitempty,gte=2000,lte=2100"`
	ProgressPercentage *int       `json:"progress_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Draft converts the request into an engine draft. Field-level validation
// beyond shape (kind rules, parent compatibility) happens in the engine.
func (r CreateGoalRequest) Draft() Draft {
	return Draft{
		Title:              r.Title,
		Description:        r.Description,
		Kind:               r.Kind,
		OwnerID:            r.OwnerID,
		OrganizationID:     r.OrganizationID,
		ParentGoalID:       r.ParentGoalID,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		Quarter:            r.Quarter,
		Year:               r.Year,
		ProgressPercentage: r.ProgressPercentage,
	}
}

type AssignGoalRequest struct {
	CreateGoalRequest
	SuperviseeID uuid.UUID `json:"supervisee_id" validate:"required"`
}

type UpdateGoalRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1,max=1000"`
	Description *string    `json:"description,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

type RespondRequest struct {
	Accept  bool   `json:"accept"`
	Message string `json:"message,omitempty"`
}

type ApprovalRequest struct {
	Approved        bool   `json:"approved"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type ProgressUpdateRequest struct {
	NewPercentage int    `json:"new_percentage" validate:"gte=0,lte=100"`
	Report        string `json:"report" validate:"required,min=1"`
}

type StatusUpdateRequest struct {
	Status GoalStatus `json:"status" validate:"required"`
}

type ReparentRequest struct {
	ParentGoalID *uuid.UUID `json:"parent_goal_id"`
}

type FreezeQuarterRequest struct {
	Quarter             Quarter    `json:"quarter" validate:"required"`
	Year                int        `json:"year" validate:"required,gte=2000,lte=2100"`
	ScheduledUnfreezeAt *time.Time `json:"scheduled_unfreeze_at,omitempty"`
}

type UnfreezeQuarterRequest struct {
	Quarter           Quarter `json:"quarter" validate:"required"`
	Year              int     `json:"year" validate:"required,gte=2000,lte=2100"`
	EmergencyOverride bool    `json:"is_emergency_override"`
	EmergencyReason   string  `json:"emergency_reason,omitempty"`
}

type FreezeQuarterResponse struct {
	AffectedCount int       `json:"affected_count"`
	Log           FreezeLog `json:"log"`
}

type GoalListResponse struct {
	Goals []Goal `json:"goals"`
	Total int    `json:"total"`
}
