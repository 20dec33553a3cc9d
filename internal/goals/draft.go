package goals

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Draft carries the caller-supplied fields for a new goal before the
// engine has accepted them.
type Draft struct {
	Title              string
	Description        *string
	Kind               GoalKind
	OwnerID            *uuid.UUID
	OrganizationID     *uuid.UUID
	ParentGoalID       *uuid.UUID
	StartDate          *time.Time
	EndDate            *time.Time
	Quarter            *Quarter
	Year               *int
	ProgressPercentage *int
}

// CanParent reports whether a goal of parent kind may have a child of
// child kind. INDIVIDUAL goals are leaves and never parent anything.
func CanParent(parent, child GoalKind) bool {
	switch parent {
	case KindOrganizationalYearly, KindOrganizationalQuarterly:
		return child == KindDepartmental || child == KindIndividual
	case KindDepartmental:
		return child == KindIndividual
	}
	return false
}

// MayHaveChildren reports whether the kind can sit above other goals in
// the hierarchy. Such goals carry derived progress only.
func MayHaveChildren(kind GoalKind) bool {
	return kind != KindIndividual
}

// ValidateDraft checks kind-specific required fields and structural rules.
// parent is the resolved parent goal when the draft references one, nil
// otherwise. Violations return a ValidationError; the engine never fills
// in omitted-but-required fields.
func ValidateDraft(d Draft, parent *Goal) error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	switch d.Kind {
	case KindOrganizationalYearly:
		if d.Quarter != nil || d.Year != nil {
			return &ValidationError{Field: "quarter", Reason: "not allowed for yearly goals"}
		}
	case KindOrganizationalQuarterly:
		if err := requireQuarterYear(d); err != nil {
			return err
		}
	case KindDepartmental:
		if d.OrganizationID == nil {
			return &ValidationError{Field: "organization_id", Reason: "required for departmental goals"}
		}
		// Quarterly cadence is optional for departmental goals, but the
		// pair must be supplied together.
		if (d.Quarter == nil) != (d.Year == nil) {
			return &ValidationError{Field: "quarter", Reason: "quarter and year must be supplied together"}
		}
		if d.Quarter != nil && !d.Quarter.Valid() {
			return &ValidationError{Field: "quarter", Reason: "unknown quarter"}
		}
	case KindIndividual:
		if d.OwnerID == nil {
			return &ValidationError{Field: "owner_id", Reason: "required for individual goals"}
		}
		if err := requireQuarterYear(d); err != nil {
			return err
		}
	default:
		return &ValidationError{Field: "kind", Reason: "unknown goal kind"}
	}

	if d.Kind != KindIndividual && d.OwnerID != nil {
		return &ValidationError{Field: "owner_id", Reason: "only individual goals have owners"}
	}
	if d.Kind != KindDepartmental && d.OrganizationID != nil {
		return &ValidationError{Field: "organization_id", Reason: "only departmental goals belong to an organization"}
	}

	if d.ProgressPercentage != nil {
		if MayHaveChildren(d.Kind) {
			return &ValidationError{Field: "progress_percentage", Reason: "derived for goals that can have children"}
		}
		if *d.ProgressPercentage < 0 || *d.ProgressPercentage > 100 {
			return &ValidationError{Field: "progress_percentage", Reason: "must be between 0 and 100"}
		}
	}

	if d.StartDate != nil && d.EndDate != nil && !d.EndDate.After(*d.StartDate) {
		return &ValidationError{Field: "end_date", Reason: "must be after start date"}
	}

	if d.ParentGoalID != nil {
		if parent == nil {
			return ErrNotFound
		}
		if !CanParent(parent.Kind, d.Kind) {
			return &ValidationError{Field: "parent_goal_id", Reason: "incompatible parent kind " + string(parent.Kind)}
		}
	}
	return nil
}

func requireQuarterYear(d Draft) error {
	if d.Quarter == nil {
		return &ValidationError{Field: "quarter", Reason: "required for " + strings.ToLower(string(d.Kind)) + " goals"}
	}
	if !d.Quarter.Valid() {
		return &ValidationError{Field: "quarter", Reason: "unknown quarter"}
	}
	if d.Year == nil {
		return &ValidationError{Field: "year", Reason: "required for " + strings.ToLower(string(d.Kind)) + " goals"}
	}
	return nil
}

// DeriveProgress returns the goal's progress given its children: the mean
// of non-discarded children's progress rounded to the nearest integer, or
// the goal's own stored value when no children count.
func DeriveProgress(g *Goal, children []Goal) int {
	sum, n := 0, 0
	for i := range children {
		if children[i].Status == StatusDiscarded {
			continue
		}
		sum += children[i].ProgressPercentage
		n++
	}
	if n == 0 {
		return g.ProgressPercentage
	}
	return int(math.Round(float64(sum) / float64(n)))
}
