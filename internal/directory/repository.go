package directory

import (
	"context"

	"github.com/google/uuid"
)

// Repository loads users and their granted permissions.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListSupervisees(ctx context.Context, supervisorID uuid.UUID) ([]User, error)
	ListPermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
}
