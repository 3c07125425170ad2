package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// NotificationService builds manager alerts and delivers them through the notifier
type NotificationService interface {
	NotifyApprovalRequired(ctx context.Context, entry *entity.ApprovalQueueEntry) error
	NotifyEscalation(ctx context.Context, notice EscalationNotice) error
	NotifyTimeoutWarning(ctx context.Context, tracking *entity.TimeoutTracking, hoursRemaining float64) error

	// Send delivers a prepared payload, recording the attempt
	Send(ctx context.Context, payload *entity.NotificationPayload) error
}

// NotificationConfig gates notification types and shapes action links
type NotificationConfig struct {
	ApprovalEnabled   bool
	EscalationEnabled bool
	PublicBaseURL     string
}

// EscalationNotice describes a reply or conversation handed to a human
type EscalationNotice struct {
	QueueID         string
	WorkflowID      string
	TenantID        string
	PhoneNumber     string
	ConfidenceScore *decimal.Decimal
	ResponseText    string
	OriginalMessage string
	Reason          string
	EscalatedBy     string
	EscalatedAt     time.Time
	EscalationID    string
	TimeoutHours    int
}

type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	notifier         port.Notifier
	breaker          *reliability.Breaker
	config           NotificationConfig
	logger           Logger
	now              func() time.Time
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	notifier port.Notifier,
	breaker *reliability.Breaker,
	config NotificationConfig,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		notifier:         notifier,
		breaker:          breaker,
		config:           config,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// NotifyApprovalRequired alerts managers that a reply is waiting in the queue
func (s *notificationServiceImpl) NotifyApprovalRequired(ctx context.Context, entry *entity.ApprovalQueueEntry) error {
	if !s.config.ApprovalEnabled {
		s.logger.Info("Approval notification disabled", "queue_id", entry.ID)
		return nil
	}

	score := entry.ConfidenceScore
	payload := &entity.NotificationPayload{
		Type:            entity.NotificationApprovalRequired,
		Priority:        entity.PriorityMedium,
		Subject:         fmt.Sprintf("Approval Required: Tenant %s Response (Confidence: %s)", entry.TenantID, percent(score)),
		QueueID:         entry.ID,
		WorkflowID:      entry.WorkflowID,
		TenantID:        entry.TenantID,
		PhoneNumber:     entry.PhoneNumber,
		ConfidenceScore: &score,
		ResponseText:    entry.AIResponse,
		TenantMessage:   entry.OriginalMessage,
		ActionLinks:     s.actionLinks(entry.ID),
		CreatedAt:       entry.CreatedAt,
	}
	return s.Send(ctx, payload)
}

// NotifyEscalation alerts managers that a reply or conversation needs a human
func (s *notificationServiceImpl) NotifyEscalation(ctx context.Context, notice EscalationNotice) error {
	if !s.config.EscalationEnabled {
		s.logger.Info("Escalation notification disabled", "queue_id", notice.QueueID, "workflow_id", notice.WorkflowID)
		return nil
	}

	escalatedAt := notice.EscalatedAt
	if escalatedAt.IsZero() {
		escalatedAt = s.now()
	}

	subject := fmt.Sprintf("ESCALATION: Tenant %s Response", notice.TenantID)
	if notice.ConfidenceScore != nil {
		subject = fmt.Sprintf("%s (Confidence: %s)", subject, percent(*notice.ConfidenceScore))
	}
	if notice.TimeoutHours > 0 {
		subject = fmt.Sprintf("TIMEOUT: Tenant %s Approval Expired (%dh)", notice.TenantID, notice.TimeoutHours)
	}

	payload := &entity.NotificationPayload{
		Type:             entity.NotificationEscalation,
		Priority:         entity.PriorityHigh,
		Subject:          subject,
		QueueID:          notice.QueueID,
		WorkflowID:       notice.WorkflowID,
		TenantID:         notice.TenantID,
		PhoneNumber:      notice.PhoneNumber,
		ConfidenceScore:  notice.ConfidenceScore,
		ResponseText:     notice.ResponseText,
		TenantMessage:    notice.OriginalMessage,
		EscalationID:     notice.EscalationID,
		EscalationReason: notice.Reason,
		EscalatedBy:      notice.EscalatedBy,
		EscalatedAt:      &escalatedAt,
		TimeoutHours:     notice.TimeoutHours,
		CreatedAt:        s.now(),
	}
	return s.Send(ctx, payload)
}

// NotifyTimeoutWarning tells managers a conversation is close to its response deadline
func (s *notificationServiceImpl) NotifyTimeoutWarning(ctx context.Context, tracking *entity.TimeoutTracking, hoursRemaining float64) error {
	if !s.config.EscalationEnabled {
		s.logger.Info("Timeout warning notification disabled", "workflow_id", tracking.WorkflowID)
		return nil
	}

	hours := hoursRemaining
	payload := &entity.NotificationPayload{
		Type:           entity.NotificationTimeoutWarning,
		Priority:       entity.PriorityMedium,
		Subject:        fmt.Sprintf("Response Timeout Warning: %.1fh remaining", hoursRemaining),
		WorkflowID:     tracking.WorkflowID,
		PhoneNumber:    tracking.PhoneNumber,
		HoursRemaining: &hours,
		TimeoutHours:   tracking.TimeoutThresholdHours,
		CreatedAt:      s.now(),
	}
	return s.Send(ctx, payload)
}

// Send records a PENDING notification, calls the notifier through the breaker
// and settles the record as SENT or FAILED. It does not retry.
func (s *notificationServiceImpl) Send(ctx context.Context, payload *entity.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	now := s.now()
	record := &entity.Notification{
		ID:          uuid.NewString(),
		Type:        payload.Type,
		ReferenceID: payload.ReferenceID(),
		Channel:     s.notifier.Name(),
		Status:      entity.NotificationStatusPending,
		Payload:     string(body),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.notificationRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("create notification record: %w", err)
	}

	sendErr := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.notifier.Send(ctx, payload)
	})

	status, errMsg := entity.NotificationStatusSent, ""
	if sendErr != nil {
		status, errMsg = entity.NotificationStatusFailed, sendErr.Error()
	}
	metrics.RecordNotification(string(payload.Type), status)

	if err := s.notificationRepo.UpdateStatus(ctx, record.ID, status, errMsg); err != nil {
		s.logger.Error("Failed to update notification status",
			"notification_id", record.ID,
			"status", status,
			"error", err)
	}

	if sendErr != nil {
		s.logger.Error("Notification delivery failed",
			"notification_id", record.ID,
			"type", payload.Type,
			"reference_id", record.ReferenceID,
			"channel", record.Channel,
			"error", sendErr)
		return fmt.Errorf("send %s notification: %w", payload.Type, sendErr)
	}

	s.logger.Info("Notification sent",
		"notification_id", record.ID,
		"type", payload.Type,
		"reference_id", record.ReferenceID,
		"channel", record.Channel)
	return nil
}

func (s *notificationServiceImpl) actionLinks(queueID string) map[string]string {
	base := strings.TrimRight(s.config.PublicBaseURL, "/")
	links := make(map[string]string, 3)
	for _, action := range []entity.ApprovalAction{entity.ActionApprove, entity.ActionModify, entity.ActionEscalate} {
		q := url.Values{}
		q.Set("action", action.String())
		q.Set("queue_id", queueID)
		links[action.String()] = fmt.Sprintf("%s/api/v1/orchestrate/approve-response?%s", base, q.Encode())
	}
	return links
}

func percent(score decimal.Decimal) string {
	return score.Mul(decimal.NewFromInt(100)).Round(0).String() + "%"
}
