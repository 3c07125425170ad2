package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationType identifies the kind of alert sent to managers
type NotificationType string

const (
	NotificationApprovalRequired NotificationType = "approval_required"
	NotificationEscalation       NotificationType = "escalation"
	NotificationTimeoutWarning   NotificationType = "timeout_warning"
)

// Notification priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// NotificationPayload is the JSON body posted to the notification service
type NotificationPayload struct {
	Type             NotificationType  `json:"type"`
	Priority         string            `json:"priority"`
	Subject          string            `json:"subject"`
	QueueID          string            `json:"queue_id,omitempty"`
	WorkflowID       string            `json:"workflow_id,omitempty"`
	TenantID         string            `json:"tenant_id,omitempty"`
	PhoneNumber      string            `json:"phone_number,omitempty"`
	ConfidenceScore  *decimal.Decimal  `json:"confidence_score,omitempty"`
	ResponseText     string            `json:"response_text,omitempty"`
	TenantMessage    string            `json:"tenant_message,omitempty"`
	EscalationID     string            `json:"escalation_id,omitempty"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	EscalatedBy      string            `json:"escalated_by,omitempty"`
	EscalatedAt      *time.Time        `json:"escalated_at,omitempty"`
	HoursRemaining   *float64          `json:"hours_remaining,omitempty"`
	TimeoutHours     int               `json:"timeout_hours,omitempty"`
	ActionLinks      map[string]string `json:"action_links,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ReferenceID returns the id a notification record is filed under
func (p *NotificationPayload) ReferenceID() string {
	switch {
	case p.QueueID != "":
		return p.QueueID
	case p.WorkflowID != "":
		return p.WorkflowID
	default:
		return p.EscalationID
	}
}

// Notification is the persisted record of one notification attempt
type Notification struct {
	ID           string           `json:"id"`
	Type         NotificationType `json:"type"`
	ReferenceID  string           `json:"reference_id"`
	Channel      string           `json:"channel"`
	Status       string           `json:"status"`
	Payload      string           `json:"payload"`
	ErrorMessage string           `json:"error_message,omitempty"`
	SentAt       *time.Time       `json:"sent_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// EscalationSignal is the result of scanning tenant text for escalation triggers
type EscalationSignal struct {
	ShouldEscalate bool     `json:"should_escalate"`
	Reasons        []string `json:"reasons"`
	Confidence     float64  `json:"confidence"`
	MatchedTerms   []string `json:"matched_terms,omitempty"`
}
