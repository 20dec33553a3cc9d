package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Service answers identity questions for the goal engine: reporting
// relationships and granted permissions.
type Service struct {
	repo Repository
}

// NewService constructs the directory service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// IsSupervisorOf reports whether actor is the direct supervisor of owner.
// Only the direct link counts; skip-level managers go through permissions.
func (s *Service) IsSupervisorOf(ctx context.Context, actorID, ownerID uuid.UUID) (bool, error) {
	if actorID == uuid.Nil || actorID == ownerID {
		return false, nil
	}
	owner, err := s.repo.GetUser(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return owner.SupervisorID != nil && *owner.SupervisorID == actorID, nil
}

// HasPermission reports whether the actor holds the named permission.
func (s *Service) HasPermission(ctx context.Context, actorID uuid.UUID, permission string) (bool, error) {
	if actorID == uuid.Nil {
		return false, nil
	}
	perms, err := s.repo.ListPermissions(ctx, actorID)
	if err != nil {
		return false, err
	}
	permission = strings.ToLower(strings.TrimSpace(permission))
	for _, p := range perms {
		if strings.ToLower(p) == permission {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns every permission granted to the user.
func (s *Service) EffectivePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	return s.repo.ListPermissions(ctx, userID)
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListSupervisees lists the active direct reports of a supervisor.
func (s *Service) ListSupervisees(ctx context.Context, supervisorID uuid.UUID) ([]User, error) {
	return s.repo.ListSupervisees(ctx, supervisorID)
}

// ListSuperviseeIDs returns just the ids of the supervisor's active
// direct reports.
func (s *Service) ListSuperviseeIDs(ctx context.Context, supervisorID uuid.UUID) ([]uuid.UUID, error) {
	if supervisorID == uuid.Nil {
		return nil, nil
	}
	users, err := s.repo.ListSupervisees(ctx, supervisorID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}
