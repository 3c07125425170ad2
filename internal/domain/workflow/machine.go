package workflow

// StateMachine tracks the current status of a workflow and validates transitions
type StateMachine interface {
	// Status returns the current status
	Status() Status

	// CanTransition returns true if moving to the target status is permitted
	CanTransition(to Status) bool

	// TransitionTo moves to the target status if allowed
	TransitionTo(to Status) error

	// PermittedTargets returns all statuses reachable from the current one
	PermittedTargets() []Status
}

type stateMachine struct {
	current Status
}

// NewStateMachine creates a state machine positioned at the given status
func NewStateMachine(initial Status) (StateMachine, error) {
	if !initial.IsValid() {
		return nil, &InvalidStatusError{Value: string(initial)}
	}
	return &stateMachine{current: initial}, nil
}

func (m *stateMachine) Status() Status {
	return m.current
}

func (m *stateMachine) CanTransition(to Status) bool {
	return CanTransition(m.current, to)
}

func (m *stateMachine) TransitionTo(to Status) error {
	if err := ValidateTransition(m.current, to); err != nil {
		return err
	}
	m.current = to
	return nil
}

func (m *stateMachine) PermittedTargets() []Status {
	return Targets(m.current)
}
