package workflow

// Status represents a step in the lifecycle of one inbound conversation turn
type Status string

const (
	StatusReceived         Status = "received"
	StatusProcessing       Status = "processing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusSent             Status = "sent"
	StatusEscalated        Status = "escalated"
	StatusFailed           Status = "failed"
	StatusCompleted        Status = "completed"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusReceived,
	StatusProcessing,
	StatusAwaitingApproval,
	StatusSent,
	StatusEscalated,
	StatusFailed,
	StatusCompleted,
}

// IsTerminal returns true if no further transitions are allowed from the status
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// IsFinished reports whether the workflow has stopped doing work, successfully or not
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the defined constants
func (s Status) IsValid() bool {
	switch s {
	case StatusReceived,
		StatusProcessing,
		StatusAwaitingApproval,
		StatusSent,
		StatusEscalated,
		StatusFailed,
		StatusCompleted:
		return true
	default:
		return false
	}
}

// ParseStatus converts a raw string into a Status
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", &InvalidStatusError{Value: raw}
	}
	return s, nil
}
