package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalStatus is the lifecycle status of an approval queue entry
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusModified  ApprovalStatus = "modified"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
)

// IsValid returns true if the status is one of the defined constants
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusModified, ApprovalStatusEscalated:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s ApprovalStatus) String() string {
	return string(s)
}

// ApprovalAction is a decision applied to a pending entry
type ApprovalAction string

const (
	ActionApprove      ApprovalAction = "approve"
	ActionModify       ApprovalAction = "modify"
	ActionEscalate     ApprovalAction = "escalate"
	ActionAutoEscalate ApprovalAction = "auto_escalate"
)

// IsManagerAction reports whether a manager may submit the action
func (a ApprovalAction) IsManagerAction() bool {
	switch a {
	case ActionApprove, ActionModify, ActionEscalate:
		return true
	default:
		return false
	}
}

// ResultingStatus returns the entry status the action produces
func (a ApprovalAction) ResultingStatus() ApprovalStatus {
	switch a {
	case ActionApprove:
		return ApprovalStatusApproved
	case ActionModify:
		return ApprovalStatusModified
	case ActionEscalate, ActionAutoEscalate:
		return ApprovalStatusEscalated
	default:
		return ApprovalStatusPending
	}
}

// String returns the string representation of the action
func (a ApprovalAction) String() string {
	return string(a)
}

// ApprovalQueueEntry is an AI reply awaiting a human decision before delivery
type ApprovalQueueEntry struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	TenantID         string          `json:"tenant_id"`
	PhoneNumber      string          `json:"phone_number"`
	OriginalMessage  string          `json:"original_message"`
	AIResponse       string          `json:"ai_response"`
	ConfidenceScore  decimal.Decimal `json:"confidence_score"`
	Status           ApprovalStatus  `json:"status"`
	ApprovalAction   ApprovalAction  `json:"approval_action,omitempty"`
	ModifiedResponse string          `json:"modified_response,omitempty"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Version          int64           `json:"-"`
}

// IsPending returns true while no action has been applied
func (e *ApprovalQueueEntry) IsPending() bool {
	return e.Status == ApprovalStatusPending
}

// FinalResponse returns the text that is delivered for the entry's current decision
func (e *ApprovalQueueEntry) FinalResponse() string {
	if e.Status == ApprovalStatusModified && e.ModifiedResponse != "" {
		return e.ModifiedResponse
	}
	return e.AIResponse
}

// Age returns how long the entry has existed at the given instant
func (e *ApprovalQueueEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Clone returns a copy safe to hand out of a store
func (e *ApprovalQueueEntry) Clone() *ApprovalQueueEntry {
	c := *e
	if e.ApprovedAt != nil {
		t := *e.ApprovedAt
		c.ApprovedAt = &t
	}
	return &c
}

// ApprovalAuditLogEntry is the permanent record of a processed queue entry
type ApprovalAuditLogEntry struct {
	ID               string         `json:"id"`
	ResponseQueueID  string         `json:"response_queue_id"`
	Action           ApprovalAction `json:"action"`
	OriginalResponse string         `json:"original_response"`
	FinalResponse    string         `json:"final_response"`
	Reason           string         `json:"reason,omitempty"`
	ApprovedBy       string         `json:"approved_by"`
	CreatedAt        time.Time      `json:"created_at"`
}
