package entity

import "time"

// TimeoutStatus is the monitoring status of a tracked conversation
type TimeoutStatus string

const (
	TimeoutStatusActive    TimeoutStatus = "active"
	TimeoutStatusWarning   TimeoutStatus = "warning"
	TimeoutStatusExpired   TimeoutStatus = "expired"
	TimeoutStatusEscalated TimeoutStatus = "escalated"
)

// TimeoutTracking monitors elapsed time since the last AI reply in a conversation
type TimeoutTracking struct {
	WorkflowID            string        `json:"workflow_id"`
	PhoneNumber           string        `json:"phone_number"`
	LastAIResponse        time.Time     `json:"last_ai_response"`
	TimeoutThresholdHours int           `json:"timeout_threshold_hours"`
	Status                TimeoutStatus `json:"status"`
	EscalationTriggered   bool          `json:"escalation_triggered"`
	WarningSent           bool          `json:"warning_sent"`
	WarningSentAt         *time.Time    `json:"warning_sent_at,omitempty"`
	EscalationTriggeredAt *time.Time    `json:"escalation_triggered_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Deadline returns when the conversation expires
func (t *TimeoutTracking) Deadline() time.Time {
	return t.LastAIResponse.Add(time.Duration(t.TimeoutThresholdHours) * time.Hour)
}

// IsExpired reports whether now is strictly past the deadline
func (t *TimeoutTracking) IsExpired(now time.Time) bool {
	return now.After(t.Deadline())
}

// Remaining returns the time left before expiry, never negative
func (t *TimeoutTracking) Remaining(now time.Time) time.Duration {
	d := t.Deadline().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingHours returns Remaining in fractional hours
func (t *TimeoutTracking) RemainingHours(now time.Time) float64 {
	return t.Remaining(now).Hours()
}

// InWarningWindow reports whether expiry is within the window and not yet reached
func (t *TimeoutTracking) InWarningWindow(now time.Time, window time.Duration) bool {
	remaining := t.Deadline().Sub(now)
	return remaining > 0 && remaining <= window
}

// Clone returns a copy safe to hand out of a store
func (t *TimeoutTracking) Clone() *TimeoutTracking {
	c := *t
	if t.WarningSentAt != nil {
		v := *t.WarningSentAt
		c.WarningSentAt = &v
	}
	if t.EscalationTriggeredAt != nil {
		v := *t.EscalationTriggeredAt
		c.EscalationTriggeredAt = &v
	}
	return &c
}

// TimeoutStatistics aggregates the tracking table
type TimeoutStatistics struct {
	Total                int                   `json:"total"`
	ByStatus             map[TimeoutStatus]int `json:"by_status"`
	WarningsSent         int                   `json:"warnings_sent"`
	EscalationsTriggered int                   `json:"escalations_triggered"`
}
