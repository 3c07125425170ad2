package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/sms-orchestrator/internal/ai"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/domain/event"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/lock"
	"github.com/garyjia/sms-orchestrator/internal/infrastructure/persistence/memory"
)

type approvalFixture struct {
	service    ApprovalService
	queueRepo  *memory.ApprovalQueueRepository
	auditRepo  *memory.AuditLogRepository
	sms        *mockSMSSender
	dispatcher *mockDispatcher
	clock      *testClock
	logger     *mockLogger
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()

	f := &approvalFixture{
		queueRepo:  memory.NewApprovalQueueRepository(),
		auditRepo:  memory.NewAuditLogRepository(),
		sms:        &mockSMSSender{},
		dispatcher: &mockDispatcher{},
		clock:      newTestClock(),
		logger:     &mockLogger{},
	}

	svc, err := NewApprovalService(ApprovalDeps{
		QueueRepo:  f.queueRepo,
		AuditRepo:  f.auditRepo,
		TxManager:  memory.NewTxManager(),
		Locker:     lock.NewKeyedMutex(),
		SMS:        f.sms,
		Exporter:   &mockExporter{},
		Dispatcher: f.dispatcher,
		Logger:     f.logger,
	}, ApprovalConfig{
		Timeout:    24 * time.Hour,
		Thresholds: ai.DefaultRoutingThresholds(),
	})
	require.NoError(t, err)
	svc.(*approvalServiceImpl).now = f.clock.Now

	f.service = svc
	return f
}

func (f *approvalFixture) createEntry(t *testing.T) *entity.ApprovalQueueEntry {
	t.Helper()
	entry, err := f.service.CreateEntry(context.Background(), CreateEntryRequest{
		WorkflowID:      "wf-1",
		TenantID:        "tenant-42",
		PhoneNumber:     "+15551234567",
		OriginalMessage: "Can I pay next Friday?",
		AIResponse:      "Yes, a payment next Friday works. We will note it on your account.",
		ConfidenceScore: decimal.NewFromFloat(0.72),
	})
	require.NoError(t, err)
	return entry
}

func TestNewApprovalService_InvalidThresholds(t *testing.T) {
	_, err := NewApprovalService(ApprovalDeps{}, ApprovalConfig{
		Thresholds: ai.NewRoutingThresholds(0.5, 0.7),
	})
	assert.Error(t, err)
}

func TestApprovalService_RouteResponse(t *testing.T) {
	f := newApprovalFixture(t)

	tests := []struct {
		score float64
		want  ai.RoutingDecision
	}{
		{0.95, ai.DecisionAutoSend},
		{0.85, ai.DecisionQueueForApproval},
		{0.72, ai.DecisionQueueForApproval},
		{0.60, ai.DecisionQueueForApproval},
		{0.59, ai.DecisionEscalate},
		{0.0, ai.DecisionEscalate},
	}

	for _, tt := range tests {
		got := f.service.RouteResponse(decimal.NewFromFloat(tt.score))
		assert.Equal(t, tt.want, got, "score %.2f", tt.score)
	}
}

func TestApprovalService_CreateEntry(t *testing.T) {
	t.Run("stores a pending entry and announces it", func(t *testing.T) {
		f := newApprovalFixture(t)

		entry := f.createEntry(t)

		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, entity.ApprovalStatusPending, entry.Status)
		assert.Equal(t, f.clock.Now(), entry.CreatedAt)

		stored, err := f.queueRepo.GetByID(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.AIResponse, stored.AIResponse)

		events := f.dispatcher.ofType(event.TypeApprovalRequired)
		require.Len(t, events, 1)
		assert.Equal(t, entry.ID, events[0].ReferenceID)
		assert.Equal(t, "wf-1", events[0].WorkflowID)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		f := newApprovalFixture(t)

		_, err := f.service.CreateEntry(context.Background(), CreateEntryRequest{TenantID: "tenant-42"})
		assert.ErrorIs(t, err, entity.ErrValidation)
		assert.Empty(t, f.dispatcher.ofType(event.TypeApprovalRequired))
	})

	t.Run("rejects score out of range", func(t *testing.T) {
		f := newApprovalFixture(t)

		_, err := f.service.CreateEntry(context.Background(), CreateEntryRequest{
			TenantID:        "tenant-42",
			PhoneNumber:     "+15551234567",
			OriginalMessage: "hello",
			AIResponse:      "hi",
			ConfidenceScore: decimal.NewFromFloat(1.2),
		})
		assert.ErrorIs(t, err, entity.ErrValidation)
	})
}

func TestApprovalService_ProcessAction(t *testing.T) {
	t.Run("approve sends the original reply", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		result, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID:    entry.ID,
			Action:     entity.ActionApprove,
			ApprovedBy: "manager-1",
		})
		require.NoError(t, err)

		assert.Equal(t, entity.ApprovalStatusApproved, result.Entry.Status)
		assert.Equal(t, "manager-1", result.Entry.ApprovedBy)
		require.NotNil(t, result.Entry.ApprovedAt)
		assert.True(t, result.Delivered)
		assert.Equal(t, "msg-1", result.MessageID)

		sent := f.sms.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, entry.PhoneNumber, sent[0].Phone)
		assert.Equal(t, entry.AIResponse, sent[0].Text)

		require.NotNil(t, result.AuditLog)
		assert.Equal(t, entry.AIResponse, result.AuditLog.OriginalResponse)
		assert.Equal(t, entry.AIResponse, result.AuditLog.FinalResponse)

		processed := f.dispatcher.ofType(event.TypeApprovalProcessed)
		require.Len(t, processed, 1)
		assert.Equal(t, "approve", processed[0].GetPayloadString(event.KeyAction))
		assert.True(t, processed[0].GetPayloadBool(event.KeyDelivered))
	})

	t.Run("modify sends the edited reply", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		result, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID:          entry.ID,
			Action:           entity.ActionModify,
			ApprovedBy:       "manager-1",
			ModifiedResponse: "Friday works. Thank you for letting us know.",
			Reason:           "tone",
		})
		require.NoError(t, err)

		assert.Equal(t, entity.ApprovalStatusModified, result.Entry.Status)
		assert.Equal(t, "Friday works. Thank you for letting us know.", f.sms.Sent()[0].Text)
		assert.Equal(t, entry.AIResponse, result.AuditLog.OriginalResponse)
		assert.Equal(t, "Friday works. Thank you for letting us know.", result.AuditLog.FinalResponse)
		assert.Equal(t, "tone", result.AuditLog.Reason)
	})

	t.Run("escalate sends nothing and requests escalation", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		result, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID:    entry.ID,
			Action:     entity.ActionEscalate,
			ApprovedBy: "manager-1",
			Reason:     "tenant disputes balance",
		})
		require.NoError(t, err)

		assert.Equal(t, entity.ApprovalStatusEscalated, result.Entry.Status)
		assert.False(t, result.Delivered)
		assert.Empty(t, f.sms.Sent())

		escalations := f.dispatcher.ofType(event.TypeEscalationRequested)
		require.Len(t, escalations, 1)
		assert.Equal(t, entry.ID, escalations[0].ReferenceID)
		assert.Equal(t, "tenant disputes balance", escalations[0].GetPayloadString(event.KeyReason))
		assert.NotContains(t, escalations[0].Payload, event.KeyTimeoutHours)
	})

	t.Run("delivery failure keeps the decision", func(t *testing.T) {
		f := newApprovalFixture(t)
		f.sms.sendFunc = func(ctx context.Context, phone, text string) (string, error) {
			return "", errDownstream
		}
		entry := f.createEntry(t)

		result, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID:    entry.ID,
			Action:     entity.ActionApprove,
			ApprovedBy: "manager-1",
		})
		require.NoError(t, err)

		assert.False(t, result.Delivered)
		assert.Contains(t, result.DeliveryError, "downstream unavailable")

		stored, err := f.queueRepo.GetByID(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.ApprovalStatusApproved, stored.Status)

		processed := f.dispatcher.ofType(event.TypeApprovalProcessed)
		require.Len(t, processed, 1)
		assert.False(t, processed[0].GetPayloadBool(event.KeyDelivered))
	})

	t.Run("validation errors", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		tests := []struct {
			name string
			req  ActionRequest
			want error
		}{
			{"unknown action", ActionRequest{QueueID: entry.ID, Action: "reject", ApprovedBy: "m"}, entity.ErrInvalidAction},
			{"auto escalate is not a manager action", ActionRequest{QueueID: entry.ID, Action: entity.ActionAutoEscalate, ApprovedBy: "m"}, entity.ErrInvalidAction},
			{"modify without text", ActionRequest{QueueID: entry.ID, Action: entity.ActionModify, ApprovedBy: "m"}, entity.ErrMissingModifiedText},
			{"missing actor", ActionRequest{QueueID: entry.ID, Action: entity.ActionApprove}, entity.ErrValidation},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.service.ProcessAction(context.Background(), tt.req)
				assert.ErrorIs(t, err, tt.want)
				assert.ErrorIs(t, err, entity.ErrValidation)
			})
		}

		stored, err := f.queueRepo.GetByID(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsPending())
		assert.Empty(t, f.sms.Sent())
	})

	t.Run("unknown entry", func(t *testing.T) {
		f := newApprovalFixture(t)

		_, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID:    "missing",
			Action:     entity.ActionApprove,
			ApprovedBy: "manager-1",
		})
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("second action is rejected", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		_, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID: entry.ID, Action: entity.ActionApprove, ApprovedBy: "manager-1",
		})
		require.NoError(t, err)

		_, err = f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID: entry.ID, Action: entity.ActionEscalate, ApprovedBy: "manager-2",
		})
		assert.ErrorIs(t, err, entity.ErrAlreadyProcessed)
		assert.ErrorIs(t, err, entity.ErrConflict)

		logs, err := f.service.GetAuditLogs(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.Len(t, f.sms.Sent(), 1)
	})

	t.Run("concurrent actions apply exactly once", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		var wg sync.WaitGroup
		var succeeded, conflicted atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.ProcessAction(context.Background(), ActionRequest{
					QueueID: entry.ID, Action: entity.ActionApprove, ApprovedBy: "manager-1",
				})
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, entity.ErrConflict):
					conflicted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(7), conflicted.Load())
		assert.Len(t, f.sms.Sent(), 1)

		logs, err := f.service.GetAuditLogs(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})
}

func TestApprovalService_CheckApprovalTimeouts(t *testing.T) {
	t.Run("escalates entries older than the timeout", func(t *testing.T) {
		f := newApprovalFixture(t)
		stale := f.createEntry(t)

		f.clock.Advance(20 * time.Hour)
		fresh := f.createEntry(t)

		f.clock.Advance(5 * time.Hour)
		count, err := f.service.CheckApprovalTimeouts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := f.queueRepo.GetByID(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.ApprovalStatusEscalated, got.Status)
		assert.Equal(t, entity.ActionAutoEscalate, got.ApprovalAction)
		assert.Equal(t, entity.SystemActor, got.ApprovedBy)

		got, err = f.queueRepo.GetByID(context.Background(), fresh.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPending())

		logs, err := f.service.GetAuditLogs(context.Background(), stale.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "Approval timeout after 24 hours", logs[0].Reason)

		escalations := f.dispatcher.ofType(event.TypeEscalationRequested)
		require.Len(t, escalations, 1)
		assert.Equal(t, 24.0, escalations[0].GetPayloadFloat(event.KeyTimeoutHours))
		assert.Empty(t, f.sms.Sent())
	})

	t.Run("nothing expired", func(t *testing.T) {
		f := newApprovalFixture(t)
		f.createEntry(t)

		count, err := f.service.CheckApprovalTimeouts(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("entries decided by a manager are skipped", func(t *testing.T) {
		f := newApprovalFixture(t)
		entry := f.createEntry(t)

		_, err := f.service.ProcessAction(context.Background(), ActionRequest{
			QueueID: entry.ID, Action: entity.ActionApprove, ApprovedBy: "manager-1",
		})
		require.NoError(t, err)

		f.clock.Advance(48 * time.Hour)
		count, err := f.service.CheckApprovalTimeouts(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestApprovalService_GetPending(t *testing.T) {
	f := newApprovalFixture(t)
	first := f.createEntry(t)
	f.clock.Advance(time.Minute)
	second := f.createEntry(t)

	_, err := f.service.ProcessAction(context.Background(), ActionRequest{
		QueueID: first.ID, Action: entity.ActionEscalate, ApprovedBy: "manager-1",
	})
	require.NoError(t, err)

	pending, err := f.service.GetPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestApprovalService_ExportAuditLogs(t *testing.T) {
	f := newApprovalFixture(t)
	entry := f.createEntry(t)
	_, err := f.service.ProcessAction(context.Background(), ActionRequest{
		QueueID: entry.ID, Action: entity.ActionApprove, ApprovedBy: "manager-1",
	})
	require.NoError(t, err)

	data, err := f.service.ExportAuditLogs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "1 rows", string(data))
	assert.Equal(t, "text/plain", f.service.ExportContentType())
}
