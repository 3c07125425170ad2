package workflow

// CanTransition reports whether a workflow may move from one status to another.
// Self-transitions are always permitted.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}

	switch from {
	case StatusReceived:
		switch to {
		case StatusProcessing, StatusFailed:
			return true
		}
	case StatusProcessing:
		switch to {
		case StatusAwaitingApproval, StatusSent, StatusEscalated, StatusFailed, StatusCompleted:
			return true
		}
	case StatusAwaitingApproval:
		switch to {
		case StatusSent, StatusEscalated, StatusFailed:
			return true
		}
	case StatusSent:
		switch to {
		case StatusCompleted, StatusFailed:
			return true
		}
	case StatusEscalated:
		switch to {
		case StatusCompleted, StatusFailed:
			return true
		}
	case StatusFailed:
		switch to {
		case StatusProcessing, StatusEscalated:
			return true
		}
	case StatusCompleted:
		return false
	}

	return false
}

// ValidateTransition returns an *InvalidTransitionError when the move is not allowed
func ValidateTransition(from, to Status) error {
	if !to.IsValid() {
		return &InvalidStatusError{Value: string(to)}
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Targets returns the statuses reachable from the given status, excluding itself
func Targets(from Status) []Status {
	var targets []Status
	for _, s := range AllStatuses {
		if s != from && CanTransition(from, s) {
			targets = append(targets, s)
		}
	}
	return targets
}
