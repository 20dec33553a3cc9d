package jobs

import (
	"context"
	"time"

	"github.com/perfdesk/perfdesk/internal/goals"
)

// Notifier dispatches goal notifications through the job queue so delivery
// never blocks or fails the originating transition.
type Notifier struct {
	client *Client
}

// NewNotifier wraps the queue client as a goals.Notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Notify enqueues the notification for asynchronous delivery.
func (n *Notifier) Notify(ctx context.Context, notification goals.Notification) error {
	_, err := n.client.EnqueueNotify(ctx, NotifyPayload{
		Kind:     notification.Kind,
		GoalID:   notification.GoalID,
		Quarter:  notification.Quarter,
		Year:     notification.Year,
		ActorID:  notification.ActorID,
		Reason:   notification.Reason,
		OwnerIDs: notification.OwnerIDs,
		At:       time.Now(),
	})
	return err
}
