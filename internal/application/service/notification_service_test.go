package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

type notificationFixture struct {
	service  NotificationService
	repo     *memory.NotificationRepository
	notifier *mockNotifier
	breaker  *reliability.Breaker
}

func newNotificationFixture(t *testing.T, config NotificationConfig) *notificationFixture {
	t.Helper()

	f := &notificationFixture{
		repo:     memory.NewNotificationRepository(),
		notifier: &mockNotifier{},
		breaker: reliability.NewBreaker(reliability.Settings{
			Name:             "notification",
			FailureThreshold: 2,
			ResetTimeout:     time.Minute,
		}),
	}
	f.service = NewNotificationService(f.repo, f.notifier, f.breaker, config, &mockLogger{})
	return f
}

func enabledNotifications() NotificationConfig {
	return NotificationConfig{
		ApprovalEnabled:   true,
		EscalationEnabled: true,
		PublicBaseURL:     "https://orchestrator.example.com/",
	}
}

func pendingEntry() *entity.ApprovalQueueEntry {
	return &entity.ApprovalQueueEntry{
		ID:              "queue-1",
		WorkflowID:      "wf-1",
		TenantID:        "tenant-42",
		PhoneNumber:     "+15551234567",
		OriginalMessage: "Can I pay next Friday?",
		AIResponse:      "Yes, Friday works.",
		ConfidenceScore: decimal.NewFromFloat(0.724),
		Status:          entity.ApprovalStatusPending,
		CreatedAt:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotificationService_NotifyApprovalRequired(t *testing.T) {
	t.Run("builds the approval payload", func(t *testing.T) {
		f := newNotificationFixture(t, enabledNotifications())

		require.NoError(t, f.service.NotifyApprovalRequired(context.Background(), pendingEntry()))

		payloads := f.notifier.Payloads()
		require.Len(t, payloads, 1)
		p := payloads[0]

		assert.Equal(t, entity.NotificationApprovalRequired, p.Type)
		assert.Equal(t, entity.PriorityMedium, p.Priority)
		assert.Equal(t, "Approval Required: Tenant tenant-42 Response (Confidence: 72%)", p.Subject)
		assert.Equal(t, "Yes, Friday works.", p.ResponseText)
		assert.Equal(t, "Can I pay next Friday?", p.TenantMessage)

		require.Len(t, p.ActionLinks, 3)
		assert.Equal(t,
			"https://orchestrator.example.com/api/v1/orchestrate/approve-response?action=approve&queue_id=queue-1",
			p.ActionLinks["approve"])
		assert.Contains(t, p.ActionLinks["modify"], "action=modify")
		assert.Contains(t, p.ActionLinks["escalate"], "action=escalate")
	})

	t.Run("records a sent notification", func(t *testing.T) {
		f := newNotificationFixture(t, enabledNotifications())

		require.NoError(t, f.service.NotifyApprovalRequired(context.Background(), pendingEntry()))

		records, err := f.repo.ListByReference(context.Background(), "queue-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, entity.NotificationStatusSent, records[0].Status)
		assert.Equal(t, "mock", records[0].Channel)
		assert.NotNil(t, records[0].SentAt)

		var stored entity.NotificationPayload
		require.NoError(t, json.Unmarshal([]byte(records[0].Payload), &stored))
		assert.Equal(t, "queue-1", stored.QueueID)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newNotificationFixture(t, NotificationConfig{EscalationEnabled: true})

		require.NoError(t, f.service.NotifyApprovalRequired(context.Background(), pendingEntry()))
		assert.Empty(t, f.notifier.Payloads())
	})
}

func TestNotificationService_NotifyEscalation(t *testing.T) {
	score := decimal.NewFromFloat(0.41)

	tests := []struct {
		name        string
		notice      EscalationNotice
		wantSubject string
	}{
		{
			name: "low confidence",
			notice: EscalationNotice{
				QueueID:         "queue-1",
				TenantID:        "tenant-42",
				ConfidenceScore: &score,
				Reason:          "low confidence score 0.41",
			},
			wantSubject: "ESCALATION: Tenant tenant-42 Response (Confidence: 41%)",
		},
		{
			name: "manager escalation without score",
			notice: EscalationNotice{
				QueueID:  "queue-1",
				TenantID: "tenant-42",
				Reason:   "tenant disputes balance",
			},
			wantSubject: "ESCALATION: Tenant tenant-42 Response",
		},
		{
			name: "approval timeout",
			notice: EscalationNotice{
				QueueID:         "queue-1",
				TenantID:        "tenant-42",
				ConfidenceScore: &score,
				Reason:          "Approval timeout after 24 hours",
				TimeoutHours:    24,
			},
			wantSubject: "TIMEOUT: Tenant tenant-42 Approval Expired (24h)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNotificationFixture(t, enabledNotifications())

			require.NoError(t, f.service.NotifyEscalation(context.Background(), tt.notice))

			payloads := f.notifier.Payloads()
			require.Len(t, payloads, 1)
			p := payloads[0]

			assert.Equal(t, entity.NotificationEscalation, p.Type)
			assert.Equal(t, entity.PriorityHigh, p.Priority)
			assert.Equal(t, tt.wantSubject, p.Subject)
			assert.Equal(t, tt.notice.Reason, p.EscalationReason)
			assert.NotNil(t, p.EscalatedAt)
			assert.Empty(t, p.ActionLinks)
		})
	}

	t.Run("disabled", func(t *testing.T) {
		f := newNotificationFixture(t, NotificationConfig{ApprovalEnabled: true})

		require.NoError(t, f.service.NotifyEscalation(context.Background(), EscalationNotice{QueueID: "queue-1"}))
		assert.Empty(t, f.notifier.Payloads())
	})
}

func TestNotificationService_NotifyTimeoutWarning(t *testing.T) {
	f := newNotificationFixture(t, enabledNotifications())

	err := f.service.NotifyTimeoutWarning(context.Background(), &entity.TimeoutTracking{
		WorkflowID:            "wf-7",
		PhoneNumber:           "+15551234567",
		TimeoutThresholdHours: 36,
	}, 4.5)
	require.NoError(t, err)

	payloads := f.notifier.Payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, entity.NotificationTimeoutWarning, payloads[0].Type)
	assert.Equal(t, "Response Timeout Warning: 4.5h remaining", payloads[0].Subject)
	require.NotNil(t, payloads[0].HoursRemaining)
	assert.Equal(t, 4.5, *payloads[0].HoursRemaining)

	records, err := f.repo.ListByReference(context.Background(), "wf-7")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestNotificationService_SendFailure(t *testing.T) {
	t.Run("marks the record failed", func(t *testing.T) {
		f := newNotificationFixture(t, enabledNotifications())
		f.notifier.sendFunc = func(ctx context.Context, payload *entity.NotificationPayload) error {
			return errDownstream
		}

		err := f.service.NotifyApprovalRequired(context.Background(), pendingEntry())
		assert.ErrorIs(t, err, errDownstream)

		records, err := f.repo.ListByReference(context.Background(), "queue-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, entity.NotificationStatusFailed, records[0].Status)
		assert.Contains(t, records[0].ErrorMessage, "downstream unavailable")
		assert.Nil(t, records[0].SentAt)
	})

	t.Run("open circuit fails fast", func(t *testing.T) {
		f := newNotificationFixture(t, enabledNotifications())
		f.notifier.sendFunc = func(ctx context.Context, payload *entity.NotificationPayload) error {
			return errDownstream
		}

		for i := 0; i < 2; i++ {
			_ = f.service.NotifyApprovalRequired(context.Background(), pendingEntry())
		}
		require.Equal(t, reliability.StateOpen, f.breaker.State())

		err := f.service.NotifyApprovalRequired(context.Background(), pendingEntry())
		assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
		assert.ErrorIs(t, err, entity.ErrServiceUnavailable)
		assert.Len(t, f.notifier.Payloads(), 2)

		records, err := f.repo.ListByReference(context.Background(), "queue-1")
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}
