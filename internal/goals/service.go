package goals

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Permission names consumed from the identity collaborator.
const (
	PermGoalCreateOrganizational = "goal.create.organizational"
	PermGoalCreateDepartmental   = "goal.create.departmental"
	PermGoalApprove              = "goal.approve"
	PermGoalEdit                 = "goal.edit"
	PermGoalProgressUpdate       = "goal.progress.update"
	PermGoalStatusChange         = "goal.status.change"
	PermGoalFreeze               = "goal.freeze"
	PermGoalViewAll              = "goal.view.all"
)

// ErrPermissionDenied indicates the actor lacks the permission or
// relationship an operation requires.
var ErrPermissionDenied = errors.New("goals: permission denied")

// IdentityProvider resolves actor relationships and permissions. The
// engine never inspects roles itself; authorization logic stays external.
type IdentityProvider interface {
	IsSupervisorOf(ctx context.Context, actorID, ownerID uuid.UUID) (bool, error)
	HasPermission(ctx context.Context, actorID uuid.UUID, permission string) (bool, error)
	ListSuperviseeIDs(ctx context.Context, supervisorID uuid.UUID) ([]uuid.UUID, error)
}

// AuditRecorder persists append-only audit entries for engine transitions.
type AuditRecorder interface {
	Record(ctx context.Context, actorID uuid.UUID, action, entity, entityID string, meta map[string]any) error
}

// NotificationKind names a stakeholder notification emitted by the engine.
type NotificationKind string

const (
	NotifyGoalSubmitted  NotificationKind = "goal.submitted"
	NotifyGoalApproved   NotificationKind = "goal.approved"
	NotifyGoalRejected   NotificationKind = "goal.rejected"
	NotifyGoalAssigned   NotificationKind = "goal.assigned"
	NotifyGoalAccepted   NotificationKind = "goal.accepted"
	NotifyGoalDeclined   NotificationKind = "goal.declined"
	NotifyAutoAchieved   NotificationKind = "goal.auto_achieved"
	NotifyGoalsFrozen    NotificationKind = "goals.frozen"
	NotifyGoalsUnfrozen  NotificationKind = "goals.unfrozen"
)

// Notification describes a stakeholder notification. Delivery is owned by
// the surrounding application (worker queue); failures never abort the
// originating transition.
type Notification struct {
	Kind     NotificationKind
	GoalID   *uuid.UUID
	Quarter  *Quarter
	Year     *int
	ActorID  uuid.UUID
	Reason   string
	OwnerIDs []uuid.UUID
}

// Notifier dispatches notifications asynchronously.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// QuarterLocker serializes bulk freeze/unfreeze per (quarter, year).
type QuarterLocker interface {
	Acquire(ctx context.Context, quarter Quarter, year int) (release func(), err error)
}

// MetricsRecorder receives engine-level counters. Nil-safe via noop.
type MetricsRecorder interface {
	CascadeRecompute()
	FreezeAction(action FreezeAction, affected int)
	Transition(event Event)
}

// Service is the goal engine facade: every goal mutation in the
// application flows through one of its operations.
type Service struct {
	repo     Repository
	identity IdentityProvider
	cascade  *Cascader
	audit    AuditRecorder
	notifier Notifier
	locker   QuarterLocker
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceParams groups Service dependencies. Audit, Notifier, Locker and
// Metrics are optional.
type ServiceParams struct {
	Repo     Repository
	Identity IdentityProvider
	Audit    AuditRecorder
	Notifier Notifier
	Locker   QuarterLocker
	Metrics  MetricsRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewService constructs the engine service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     p.Repo,
		identity: p.Identity,
		cascade:  NewCascader(logger),
		audit:    p.Audit,
		notifier: p.Notifier,
		locker:   p.Locker,
		metrics:  p.Metrics,
		logger:   logger,
		now:      now,
	}
}

// CreateGoal validates the draft and persists a new goal. Individual goals
// start PENDING_APPROVAL; organizational and departmental goals need no
// approval and start ACTIVE, gated by a create permission instead.
func (s *Service) CreateGoal(ctx context.Context, d Draft, actorID uuid.UUID) (*Goal, error) {
	var parent *Goal
	if d.ParentGoalID != nil {
		var err error
		parent, err = s.repo.GetGoal(ctx, *d.ParentGoalID)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateDraft(d, parent); err != nil {
		return nil, err
	}
	if err := s.requireCreatePermission(ctx, d.Kind, actorID); err != nil {
		return nil, err
	}

	goal := s.goalFromDraft(d, actorID)
	if d.Kind == KindIndividual {
		goal.Status = StatusPendingApproval
	} else {
		goal.Status = StatusActive
	}

	if err := s.repo.InsertGoal(ctx, goal); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "goal.create", goal.ID, map[string]any{"kind": string(goal.Kind)})
	if goal.Status == StatusPendingApproval {
		s.notify(ctx, Notification{Kind: NotifyGoalSubmitted, GoalID: &goal.ID, ActorID: actorID})
	}
	return &goal, nil
}

// AssignGoal lets a supervisor create an individual goal for a direct
// supervisee. The goal starts ASSIGNED and waits for the owner's response.
func (s *Service) AssignGoal(ctx context.Context, d Draft, superviseeID, actorID uuid.UUID) (*Goal, error) {
	if d.Kind != KindIndividual {
		return nil, &ValidationError{Field: "kind", Reason: "only individual goals can be assigned"}
	}
	ok, err := s.identity.IsSupervisorOf(ctx, actorID, superviseeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}

	d.OwnerID = &superviseeID
	var parent *Goal
	if d.ParentGoalID != nil {
		parent, err = s.repo.GetGoal(ctx, *d.ParentGoalID)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateDraft(d, parent); err != nil {
		return nil, err
	}

	goal := s.goalFromDraft(d, actorID)
	goal.Status = StatusAssigned

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.InsertGoal(ctx, goal); err != nil {
			return err
		}
		return repo.InsertAssignment(ctx, Assignment{
			ID:         uuid.New(),
			GoalID:     goal.ID,
			AssignedBy: actorID,
			AssignedTo: superviseeID,
			Status:     StatusAssigned,
			AssignedAt: s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "goal.assign", goal.ID, map[string]any{"assigned_to": superviseeID.String()})
	s.notify(ctx, Notification{Kind: NotifyGoalAssigned, GoalID: &goal.ID, ActorID: actorID, OwnerIDs: []uuid.UUID{superviseeID}})
	return &goal, nil
}

// RespondToAssignment applies the owner's accept or decline to an ASSIGNED
// goal. Declining requires a reason, which lands in RejectionReason.
func (s *Service) RespondToAssignment(ctx context.Context, goalID uuid.UUID, accept bool, message string, actorID uuid.UUID) (*Goal, error) {
	var updated *Goal
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		goal, err := repo.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		event := EventAccept
		if !accept {
			event = EventDecline
		}
		target, err := CheckTransition(goal, event)
		if err != nil {
			return err
		}
		if goal.OwnerID == nil || *goal.OwnerID != actorID {
			return &InvalidTransitionError{From: goal.Status, Event: string(event), Guard: GuardNotOwner}
		}
		if !accept && strings.TrimSpace(message) == "" {
			return &InvalidTransitionError{From: goal.Status, Event: string(event), Guard: GuardMissingReason}
		}

		at := s.now()
		goal.Status = target
		if accept {
			goal.ApprovedAt = &at
			goal.ApprovedBy = &actorID
		} else {
			goal.RejectionReason = &message
		}
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}

		assignment, err := repo.GetAssignment(ctx, goalID, actorID)
		if err != nil {
			return err
		}
		assignment.Status = target
		assignment.RespondedAt = &at
		if message != "" {
			assignment.ResponseMessage = &message
		}
		if err := repo.UpdateAssignment(ctx, assignment); err != nil {
			return err
		}
		s.countTransition(event)
		updated = goal
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := NotifyGoalAccepted
	if !accept {
		kind = NotifyGoalDeclined
	}
	s.recordAudit(ctx, actorID, "goal.respond", goalID, map[string]any{"accepted": accept})
	s.notify(ctx, Notification{Kind: kind, GoalID: &goalID, ActorID: actorID, Reason: message, OwnerIDs: []uuid.UUID{updated.CreatedBy}})
	return updated, nil
}

// ApproveGoal moves a PENDING_APPROVAL goal to ACTIVE. The actor must be
// the owner's supervisor or hold the approve permission.
func (s *Service) ApproveGoal(ctx context.Context, goalID, actorID uuid.UUID) (*Goal, error) {
	goal, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	target, err := CheckTransition(goal, EventApprove)
	if err != nil {
		return nil, err
	}
	if err := s.requireApprover(ctx, goal, actorID, EventApprove); err != nil {
		return nil, err
	}

	at := s.now()
	goal.Status = target
	goal.ApprovedAt = &at
	goal.ApprovedBy = &actorID
	goal.RejectionReason = nil
	if err := s.repo.UpdateGoal(ctx, goal); err != nil {
		return nil, err
	}
	s.countTransition(EventApprove)
	s.recordAudit(ctx, actorID, "goal.approve", goalID, nil)
	if goal.OwnerID != nil {
		s.notify(ctx, Notification{Kind: NotifyGoalApproved, GoalID: &goalID, ActorID: actorID, OwnerIDs: []uuid.UUID{*goal.OwnerID}})
	}
	return goal, nil
}

// RejectGoal moves a PENDING_APPROVAL goal to REJECTED with a mandatory
// reason. The reason stays on the record permanently; a revision is a new
// goal, never an edit of this one.
func (s *Service) RejectGoal(ctx context.Context, goalID uuid.UUID, reason string, actorID uuid.UUID) (*Goal, error) {
	goal, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	target, err := CheckTransition(goal, EventReject)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &InvalidTransitionError{From: goal.Status, Event: string(EventReject), Guard: GuardMissingReason}
	}
	if err := s.requireApprover(ctx, goal, actorID, EventReject); err != nil {
		return nil, err
	}

	at := s.now()
	goal.Status = target
	goal.RejectionReason = &reason
	goal.ApprovedAt = &at
	goal.ApprovedBy = &actorID
	if err := s.repo.UpdateGoal(ctx, goal); err != nil {
		return nil, err
	}
	s.countTransition(EventReject)
	s.recordAudit(ctx, actorID, "goal.reject", goalID, map[string]any{"reason": reason})
	if goal.OwnerID != nil {
		s.notify(ctx, Notification{Kind: NotifyGoalRejected, GoalID: &goalID, ActorID: actorID, Reason: reason, OwnerIDs: []uuid.UUID{*goal.OwnerID}})
	}
	return goal, nil
}

// ReviseGoal creates a fresh PENDING_APPROVAL goal from a rejected one,
// under the same parent. The rejected record keeps its reason untouched.
func (s *Service) ReviseGoal(ctx context.Context, goalID uuid.UUID, d Draft, actorID uuid.UUID) (*Goal, error) {
	source, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if source.Status != StatusRejected {
		return nil, &InvalidTransitionError{From: source.Status, Event: "revise", Guard: GuardBadStatus}
	}
	if source.OwnerID == nil || *source.OwnerID != actorID {
		return nil, &InvalidTransitionError{From: source.Status, Event: "revise", Guard: GuardNotOwner}
	}

	d.Kind = source.Kind
	d.OwnerID = source.OwnerID
	d.OrganizationID = source.OrganizationID
	d.ParentGoalID = source.ParentGoalID
	if d.Quarter == nil {
		d.Quarter = source.Quarter
	}
	if d.Year == nil {
		d.Year = source.Year
	}

	var parent *Goal
	if d.ParentGoalID != nil {
		parent, err = s.repo.GetGoal(ctx, *d.ParentGoalID)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateDraft(d, parent); err != nil {
		return nil, err
	}

	goal := s.goalFromDraft(d, actorID)
	goal.Status = StatusPendingApproval
	if err := s.repo.InsertGoal(ctx, goal); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "goal.revise", goal.ID, map[string]any{"revises": goalID.String()})
	s.notify(ctx, Notification{Kind: NotifyGoalSubmitted, GoalID: &goal.ID, ActorID: actorID})
	return &goal, nil
}

// GoalEdit carries the mutable descriptive fields of a goal. Nil fields
// stay untouched. Classification, ownership and progress never change
// through this path.
type GoalEdit struct {
	Title       *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// UpdateGoal edits a goal's title, description and dates. The actor must
// be the creator, the owner, or hold the edit permission; frozen and
// terminal goals refuse edits.
func (s *Service) UpdateGoal(ctx context.Context, goalID uuid.UUID, edit GoalEdit, actorID uuid.UUID) (*Goal, error) {
	goal, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Frozen {
		return nil, &FrozenGoalError{GoalID: goal.ID, FrozenAt: goal.FrozenAt}
	}
	if goal.Status.Terminal() {
		return nil, &InvalidTransitionError{From: goal.Status, Event: "edit", Guard: GuardBadStatus}
	}
	if err := s.requireEditActor(ctx, goal, actorID); err != nil {
		return nil, err
	}

	if edit.Title != nil {
		title := strings.TrimSpace(*edit.Title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Reason: "required"}
		}
		goal.Title = title
	}
	if edit.Description != nil {
		goal.Description = edit.Description
	}
	if edit.StartDate != nil {
		goal.StartDate = edit.StartDate
	}
	if edit.EndDate != nil {
		goal.EndDate = edit.EndDate
	}
	if goal.StartDate != nil && goal.EndDate != nil && goal.EndDate.Before(*goal.StartDate) {
		return nil, &ValidationError{Field: "end_date", Reason: "must not precede start date"}
	}

	if err := s.repo.UpdateGoal(ctx, goal); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "goal.update", goalID, nil)
	return goal, nil
}

// UpdateProgressResult reports the outcome of a progress update.
// AchievementEligible signals the progress reached 100; the engine never
// flips status on its own, the caller decides whether to issue
// MarkAchieved as a separate, separately-audited transition.
type UpdateProgressResult struct {
	Goal                *Goal
	Report              ProgressReport
	AchievementEligible bool
}

// UpdateProgress applies a manual progress update to a leaf goal inside
// one transaction, appends the progress report, and cascades the derived
// progress up the parent chain before returning.
func (s *Service) UpdateProgress(ctx context.Context, goalID uuid.UUID, newPercentage int, report string, actorID uuid.UUID) (*UpdateProgressResult, error) {
	if newPercentage < 0 || newPercentage > 100 {
		return nil, &ValidationError{Field: "new_percentage", Reason: "must be between 0 and 100"}
	}
	if strings.TrimSpace(report) == "" {
		return nil, &ValidationError{Field: "report", Reason: "required"}
	}

	var result UpdateProgressResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		goal, err := repo.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		if _, err := CheckTransition(goal, EventUpdateProgress); err != nil {
			return err
		}
		if err := s.requireProgressActor(ctx, goal, actorID); err != nil {
			return err
		}
		childCount, err := repo.CountChildren(ctx, goalID)
		if err != nil {
			return err
		}
		if childCount > 0 {
			return &InvalidTransitionError{From: goal.Status, Event: string(EventUpdateProgress), Guard: GuardNotLeaf}
		}

		pr := ProgressReport{
			ID:            uuid.New(),
			GoalID:        goalID,
			OldPercentage: goal.ProgressPercentage,
			NewPercentage: newPercentage,
			Report:        report,
			UpdatedBy:     actorID,
			CreatedAt:     s.now(),
		}
		if err := repo.InsertProgressReport(ctx, pr); err != nil {
			return err
		}
		goal.ProgressPercentage = newPercentage
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}
		if err := s.cascade.OnChildProgressChanged(ctx, repo, goalID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.CascadeRecompute()
		}
		result = UpdateProgressResult{
			Goal:                goal,
			Report:              pr,
			AchievementEligible: newPercentage == 100,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countTransition(EventUpdateProgress)
	s.recordAudit(ctx, actorID, "goal.progress", goalID, map[string]any{
		"old": result.Report.OldPercentage,
		"new": result.Report.NewPercentage,
	})
	return &result, nil
}

// MarkAchieved moves an ACTIVE goal to ACHIEVED and runs the
// auto-achievement check up the parent chain within the same transaction.
func (s *Service) MarkAchieved(ctx context.Context, goalID, actorID uuid.UUID) (*Goal, error) {
	var updated *Goal
	var autoAchieved []Goal
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		goal, err := repo.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		target, err := CheckTransition(goal, EventMarkAchieved)
		if err != nil {
			return err
		}
		if err := s.requireStatusActor(ctx, goal, actorID, EventMarkAchieved); err != nil {
			return err
		}

		at := s.now()
		goal.Status = target
		goal.AchievedAt = &at
		goal.ProgressPercentage = 100
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}
		autoAchieved, err = s.cascade.OnChildStatusChanged(ctx, repo, goalID, StatusAchieved, at)
		if err != nil {
			return err
		}
		updated = goal
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countTransition(EventMarkAchieved)
	s.recordAudit(ctx, actorID, "goal.achieve", goalID, nil)
	for i := range autoAchieved {
		g := autoAchieved[i]
		s.recordAudit(ctx, actorID, "goal.auto_achieve", g.ID, map[string]any{"trigger": goalID.String()})
		s.notify(ctx, Notification{Kind: NotifyAutoAchieved, GoalID: &g.ID, ActorID: actorID})
	}
	return updated, nil
}

// DiscardGoal moves an ACTIVE goal to DISCARDED. The goal drops out of its
// parent's progress mean and achievement check, so ancestors recompute.
func (s *Service) DiscardGoal(ctx context.Context, goalID, actorID uuid.UUID) (*Goal, error) {
	var updated *Goal
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		goal, err := repo.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		target, err := CheckTransition(goal, EventDiscard)
		if err != nil {
			return err
		}
		if err := s.requireStatusActor(ctx, goal, actorID, EventDiscard); err != nil {
			return err
		}

		at := s.now()
		goal.Status = target
		goal.DiscardedAt = &at
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}
		if _, err := s.cascade.OnChildStatusChanged(ctx, repo, goalID, StatusDiscarded, at); err != nil {
			return err
		}
		updated = goal
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countTransition(EventDiscard)
	s.recordAudit(ctx, actorID, "goal.discard", goalID, nil)
	return updated, nil
}

// Reparent moves a goal under a new parent (or detaches it when parentID
// is nil) after kind-compatibility and cycle checks, then recomputes both
// the old and new ancestor chains.
func (s *Service) Reparent(ctx context.Context, goalID uuid.UUID, parentID *uuid.UUID, actorID uuid.UUID) (*Goal, error) {
	if err := s.requirePermission(ctx, actorID, PermGoalEdit); err != nil {
		return nil, err
	}
	var updated *Goal
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		goal, err := repo.GetGoal(ctx, goalID)
		if err != nil {
			return err
		}
		if goal.Frozen {
			return &FrozenGoalError{GoalID: goal.ID, FrozenAt: goal.FrozenAt}
		}
		if parentID != nil {
			parent, err := repo.GetGoal(ctx, *parentID)
			if err != nil {
				return err
			}
			if !CanParent(parent.Kind, goal.Kind) {
				return &ValidationError{Field: "parent_goal_id", Reason: "incompatible parent kind " + string(parent.Kind)}
			}
			cyclic, err := s.cascade.WouldCreateCycle(ctx, repo, goalID, *parentID)
			if err != nil {
				return err
			}
			if cyclic {
				return &CycleDetectedError{GoalID: goalID, ParentID: *parentID}
			}
		}

		oldParent := goal.ParentGoalID
		goal.ParentGoalID = parentID
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}
		// Old ancestors lost a child, new ancestors gained one.
		if oldParent != nil {
			if err := s.recomputeFrom(ctx, repo, *oldParent); err != nil {
				return err
			}
		}
		if err := s.cascade.OnChildProgressChanged(ctx, repo, goalID); err != nil {
			return err
		}
		updated = goal
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "goal.reparent", goalID, nil)
	return updated, nil
}

// DeleteGoal removes a leaf goal with no children and no progress reports.
// This is a business rule, not a storage constraint: referenced parents
// are never hard-deleted.
func (s *Service) DeleteGoal(ctx context.Context, goalID, actorID uuid.UUID) error {
	goal, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.Frozen {
		return &FrozenGoalError{GoalID: goal.ID, FrozenAt: goal.FrozenAt}
	}
	if err := s.requireEditActor(ctx, goal, actorID); err != nil {
		return err
	}
	children, err := s.repo.CountChildren(ctx, goalID)
	if err != nil {
		return err
	}
	if children > 0 {
		return &ValidationError{Field: "id", Reason: "goal has child goals"}
	}
	reports, err := s.repo.CountProgressReports(ctx, goalID)
	if err != nil {
		return err
	}
	if reports > 0 {
		return &ValidationError{Field: "id", Reason: "goal has progress reports"}
	}
	if err := s.repo.DeleteGoal(ctx, goalID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "goal.delete", goalID, nil)
	return nil
}

func (s *Service) goalFromDraft(d Draft, actorID uuid.UUID) Goal {
	goal := Goal{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(d.Title),
		Description:    d.Description,
		Kind:           d.Kind,
		OwnerID:        d.OwnerID,
		OrganizationID: d.OrganizationID,
		ParentGoalID:   d.ParentGoalID,
		StartDate:      d.StartDate,
		EndDate:        d.EndDate,
		Quarter:        d.Quarter,
		Year:           d.Year,
		CreatedBy:      actorID,
		CreatedAt:      s.now(),
	}
	if d.ProgressPercentage != nil {
		goal.ProgressPercentage = *d.ProgressPercentage
	}
	return goal
}

func (s *Service) recomputeFrom(ctx context.Context, repo Repository, goalID uuid.UUID) error {
	goal, err := repo.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	children, err := repo.ListChildren(ctx, goalID)
	if err != nil {
		return err
	}
	derived := DeriveProgress(goal, children)
	if derived != goal.ProgressPercentage {
		goal.ProgressPercentage = derived
		if err := repo.UpdateGoal(ctx, goal); err != nil {
			return err
		}
	}
	return s.cascade.OnChildProgressChanged(ctx, repo, goalID)
}

func (s *Service) requireCreatePermission(ctx context.Context, kind GoalKind, actorID uuid.UUID) error {
	var perm string
	switch kind {
	case KindOrganizationalYearly, KindOrganizationalQuarterly:
		perm = PermGoalCreateOrganizational
	case KindDepartmental:
		perm = PermGoalCreateDepartmental
	default:
		return nil // individual goals need no create permission
	}
	return s.requirePermission(ctx, actorID, perm)
}

func (s *Service) requirePermission(ctx context.Context, actorID uuid.UUID, perm string) error {
	ok, err := s.identity.HasPermission(ctx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

func (s *Service) requireApprover(ctx context.Context, goal *Goal, actorID uuid.UUID, event Event) error {
	if goal.OwnerID != nil {
		ok, err := s.identity.IsSupervisorOf(ctx, actorID, *goal.OwnerID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	ok, err := s.identity.HasPermission(ctx, actorID, PermGoalApprove)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{From: goal.Status, Event: string(event), Guard: GuardNotSupervisor}
	}
	return nil
}

func (s *Service) requireProgressActor(ctx context.Context, goal *Goal, actorID uuid.UUID) error {
	if goal.OwnerID != nil && *goal.OwnerID == actorID {
		return nil
	}
	if goal.CreatedBy == actorID {
		return nil
	}
	ok, err := s.identity.HasPermission(ctx, actorID, PermGoalProgressUpdate)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{From: goal.Status, Event: string(EventUpdateProgress), Guard: GuardNoPermission}
	}
	return nil
}

func (s *Service) requireStatusActor(ctx context.Context, goal *Goal, actorID uuid.UUID, event Event) error {
	if goal.OwnerID != nil && *goal.OwnerID == actorID {
		return nil
	}
	if goal.CreatedBy == actorID {
		return nil
	}
	ok, err := s.identity.HasPermission(ctx, actorID, PermGoalStatusChange)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{From: goal.Status, Event: string(event), Guard: GuardNoPermission}
	}
	return nil
}

func (s *Service) requireEditActor(ctx context.Context, goal *Goal, actorID uuid.UUID) error {
	if goal.CreatedBy == actorID {
		return nil
	}
	if goal.OwnerID != nil && *goal.OwnerID == actorID {
		return nil
	}
	return s.requirePermission(ctx, actorID, PermGoalEdit)
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, goalID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actorID, action, "goal", goalID.String(), meta); err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("dispatch notification", slog.String("kind", string(n.Kind)), slog.Any("error", err))
	}
}

func (s *Service) countTransition(event Event) {
	if s.metrics != nil {
		s.metrics.Transition(event)
	}
}
