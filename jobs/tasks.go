package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/perfdesk/perfdesk/internal/goals"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeUnfreezeScan polls for goals whose scheduled unfreeze time
	// has elapsed and unfreezes them.
	TaskTypeUnfreezeScan = "goals:unfreeze_scan"
	// TaskTypeNotify delivers a goal lifecycle notification to its
	// stakeholders.
	TaskTypeNotify = "goals:notify"
)

// NotifyPayload carries a goal notification through the queue.
type NotifyPayload struct {
	Kind     goals.NotificationKind `json:"kind"`
	GoalID   *uuid.UUID             `json:"goal_id,omitempty"`
	Quarter  *goals.Quarter         `json:"quarter,omitempty"`
	Year     *int                   `json:"year,omitempty"`
	ActorID  uuid.UUID              `json:"actor_id"`
	Reason   string                 `json:"reason,omitempty"`
	OwnerIDs []uuid.UUID            `json:"owner_ids,omitempty"`
	At       time.Time              `json:"at"`
}

// NewUnfreezeScanTask constructs the periodic unfreeze scan task.
func NewUnfreezeScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeUnfreezeScan, nil)
}

// NewNotifyTask constructs a notification delivery task.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data), nil
}
