package campaign

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusRunning, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether queue items of the campaign may still change state.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

// OperatorSources lists the states an operator may move a campaign out of to
// reach `to`. completed is never an operator target; it is derived by
// reconciliation.
func OperatorSources(to Status) []Status {
	switch to {
	case StatusRunning:
		return []Status{StatusReady, StatusPaused}
	case StatusPaused:
		return []Status{StatusRunning}
	}
	return nil
}

// CanTransition reports whether an operator may move a campaign from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, from := range OperatorSources(to) {
		if from == s {
			return true
		}
	}
	return false
}

// ItemStatus is the delivery state of a single queue item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemSent       ItemStatus = "sent"
	ItemFailed     ItemStatus = "failed"
)

// Terminal items never change again.
func (s ItemStatus) Terminal() bool {
	return s == ItemSent || s == ItemFailed
}
