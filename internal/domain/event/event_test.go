package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringer string

func (s stringer) String() string { return string(s) }

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"workflow status changed", TypeWorkflowStatusChanged, true},
		{"approval required", TypeApprovalRequired, true},
		{"approval processed", TypeApprovalProcessed, true},
		{"escalation requested", TypeEscalationRequested, true},
		{"timeout warning", TypeTimeoutWarning, true},
		{"timeout escalated", TypeTimeoutEscalated, true},
		{"circuit state changed", TypeCircuitStateChanged, true},
		{"unknown type", Type("unknown.type"), false},
		{"empty string", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.IsValid())
		})
	}
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeApprovalRequired, "wf-1", "queue-1", map[string]interface{}{KeyQueueID: "queue-1"})

	require.NotNil(t, evt)
	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.CorrelationID)
	assert.NotEqual(t, evt.ID, evt.CorrelationID)
	assert.Equal(t, TypeApprovalRequired, evt.Type)
	assert.Equal(t, "wf-1", evt.WorkflowID)
	assert.Equal(t, "queue-1", evt.ReferenceID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNewEvent_NilPayload(t *testing.T) {
	evt := NewEvent(TypeTimeoutWarning, "wf-1", "", nil)

	require.NotNil(t, evt.Payload)
	assert.Equal(t, "", evt.GetPayloadString("missing"))
}

func TestNewEventWithCorrelation(t *testing.T) {
	evt := NewEventWithCorrelation(TypeApprovalProcessed, "wf-1", "q-1", nil, "corr-123")
	assert.Equal(t, "corr-123", evt.CorrelationID)

	generated := NewEventWithCorrelation(TypeApprovalProcessed, "wf-1", "q-1", nil, "")
	assert.NotEmpty(t, generated.CorrelationID)
}

func TestEvent_WithPayload_DoesNotMutateOriginal(t *testing.T) {
	original := NewEvent(TypeApprovalProcessed, "wf-1", "q-1", map[string]interface{}{KeyAction: "approve"})

	updated := original.WithPayload(KeyActor, "manager-7")

	assert.Equal(t, "manager-7", updated.GetPayloadString(KeyActor))
	assert.Equal(t, "approve", updated.GetPayloadString(KeyAction))
	assert.Equal(t, "", original.GetPayloadString(KeyActor))
	assert.Equal(t, original.ID, updated.ID)
}

func TestEvent_PayloadGetters(t *testing.T) {
	evt := NewEvent(TypeTimeoutWarning, "wf-1", "", map[string]interface{}{
		"str":             "value",
		"stringer":        stringer("escalated"),
		KeyHoursRemaining: 5.5,
		"int":             3,
		KeyDelivered:      true,
		"wrong_type":      []string{"x"},
	})

	assert.Equal(t, "value", evt.GetPayloadString("str"))
	assert.Equal(t, "escalated", evt.GetPayloadString("stringer"))
	assert.Equal(t, "", evt.GetPayloadString("wrong_type"))
	assert.InDelta(t, 5.5, evt.GetPayloadFloat(KeyHoursRemaining), 0.0001)
	assert.InDelta(t, 3.0, evt.GetPayloadFloat("int"), 0.0001)
	assert.Equal(t, 0.0, evt.GetPayloadFloat("missing"))
	assert.True(t, evt.GetPayloadBool(KeyDelivered))
	assert.False(t, evt.GetPayloadBool("str"))
}
