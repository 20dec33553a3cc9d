package directory

import (
	"time"

	"github.com/google/uuid"
)

// User is a member of the organization. SupervisorID links the reporting
// chain; goal approval and assignment authority follow it.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	FullName     string     `json:"full_name" db:"full_name"`
	Title        *string    `json:"title,omitempty" db:"title"`
	SupervisorID *uuid.UUID `json:"supervisor_id,omitempty" db:"supervisor_id"`
	Active       bool       `json:"active" db:"active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
