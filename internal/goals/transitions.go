package goals

// Event names a requested lifecycle transition.
type Event string

const (
	EventApprove        Event = "approve"
	EventReject         Event = "reject"
	EventAccept         Event = "accept"
	EventDecline        Event = "decline"
	EventUpdateProgress Event = "updateProgress"
	EventMarkAchieved   Event = "markAchieved"
	EventDiscard        Event = "discard"
)

// transition fixes the single legal (from, to) pair for an event. Freeze
// and unfreeze are not listed: they toggle the frozen flag without moving
// status and are handled by the freeze coordinator.
type transition struct {
	from GoalStatus
	to   GoalStatus
}

var transitions = map[Event]transition{
	EventApprove:        {from: StatusPendingApproval, to: StatusActive},
	EventReject:         {from: StatusPendingApproval, to: StatusRejected},
	EventAccept:         {from: StatusAssigned, to: StatusActive},
	EventDecline:        {from: StatusAssigned, to: StatusRejected},
	EventUpdateProgress: {from: StatusActive, to: StatusActive},
	EventMarkAchieved:   {from: StatusActive, to: StatusAchieved},
	EventDiscard:        {from: StatusActive, to: StatusDiscarded},
}

// CheckTransition verifies the goal may undergo the event: the goal must
// not be frozen (frozen goals accept only unfreeze) and its status must be
// the event's legal source state. It does not apply the change.
func CheckTransition(g *Goal, event Event) (GoalStatus, error) {
	if g.Frozen {
		return "", &FrozenGoalError{GoalID: g.ID, FrozenAt: g.FrozenAt}
	}
	t, ok := transitions[event]
	if !ok {
		return "", &InvalidTransitionError{From: g.Status, Event: string(event), Guard: "unknown-event"}
	}
	if g.Status != t.from {
		return "", &InvalidTransitionError{From: g.Status, Event: string(event), Guard: GuardBadStatus}
	}
	return t.to, nil
}
