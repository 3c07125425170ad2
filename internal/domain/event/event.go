package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by publishers and handlers
const (
	KeyQueueID        = "queue_id"
	KeyAction         = "action"
	KeyActor          = "actor"
	KeyReason         = "reason"
	KeyPreviousStatus = "previous_status"
	KeyNewStatus      = "new_status"
	KeyDelivered      = "delivered"
	KeyMessageID      = "message_id"
	KeyService        = "service"
	KeyFromState      = "from_state"
	KeyToState        = "to_state"
	KeyHoursRemaining = "hours_remaining"
	KeyTimeoutHours   = "timeout_hours"
	KeyEscalationID   = "escalation_id"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	WorkflowID    string                 `json:"workflow_id,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp.
// referenceID identifies the queue entry or tracking row the event is about.
func NewEvent(eventType Type, workflowID, referenceID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, workflowID, referenceID, payload, generateID())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, workflowID, referenceID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	if correlationID == "" {
		correlationID = generateID()
	}
	return &Event{
		ID:            generateID(),
		Type:          eventType,
		WorkflowID:    workflowID,
		ReferenceID:   referenceID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

func generateID() string {
	return uuid.NewString()
}
