package workflow

import "fmt"

// RecoveryStrategy selects how a failed workflow is resumed
type RecoveryStrategy string

const (
	RecoveryRetry    RecoveryStrategy = "retry"
	RecoveryEscalate RecoveryStrategy = "escalate"
)

// String returns the string representation of the strategy
func (r RecoveryStrategy) String() string {
	return string(r)
}

// RecoveryTarget returns the status a failed workflow moves to under the strategy.
// Recovery is only possible from StatusFailed.
func RecoveryTarget(current Status, strategy RecoveryStrategy) (Status, error) {
	if current != StatusFailed {
		return "", fmt.Errorf("%w: current status is %s", ErrNotRecoverable, current)
	}

	switch strategy {
	case RecoveryRetry:
		return StatusProcessing, nil
	case RecoveryEscalate:
		return StatusEscalated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRecoveryStrategy, strategy)
	}
}
