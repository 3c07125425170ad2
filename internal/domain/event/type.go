package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStatusChanged Type = "workflow.status_changed"
	TypeApprovalRequired      Type = "approval.required"
	TypeApprovalProcessed     Type = "approval.processed"
	TypeEscalationRequested   Type = "escalation.requested"
	TypeTimeoutWarning        Type = "timeout.warning"
	TypeTimeoutEscalated      Type = "timeout.escalated"
	TypeCircuitStateChanged   Type = "circuit.state_changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStatusChanged,
		TypeApprovalRequired,
		TypeApprovalProcessed,
		TypeEscalationRequested,
		TypeTimeoutWarning,
		TypeTimeoutEscalated,
		TypeCircuitStateChanged:
		return true
	default:
		return false
	}
}
