package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/ai"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/application/workflow"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

// Step names recorded by the inbound pipeline
const (
	StepSMSReceived        = "sms_received"
	StepFetchTenantContext = "fetch_tenant_context"
	StepFetchHistory       = "fetch_conversation_history"
	StepEscalationCheck    = "escalation_check"
	StepGenerateResponse   = "ai_response_generation"
	StepPaymentPlan        = "payment_plan_validation"
	StepScoreResponse      = "confidence_scoring"
	StepSendSMS            = "sms_delivery"
	StepQueueApproval      = "approval_queue"
	StepNotifyEscalation   = "escalation_notification"
)

// IntakeService accepts inbound SMS and drives each one from receipt to a routed reply
type IntakeService interface {
	// Receive validates the message, opens a workflow and queues the message for processing
	Receive(ctx context.Context, msg entity.InboundMessage) (*entity.WorkflowInstance, error)

	// Process generates, scores and routes a reply for an accepted message
	Process(ctx context.Context, msg entity.InboundMessage, workflowID string) error
}

// Scorer computes the confidence of a generated reply
type Scorer interface {
	Score(text string, tenant entity.TenantContext, history []entity.ConversationMessage, language string) decimal.Decimal
}

// IntakeDeps are the collaborators of the intake pipeline
type IntakeDeps struct {
	Engine        workflow.WorkflowEngine
	Queue         port.IntakeQueue
	Tenants       port.TenantContextSource
	Conversations port.ConversationSource
	Detector      port.EscalationDetector
	Generator     port.ResponseGenerator
	Scorer        Scorer
	SMS           port.SMSSender
	Approvals     ApprovalService
	Timeouts      TimeoutMonitor
	Notifications NotificationService
	Plans         PaymentPlanService // optional
	Logger        Logger
}

type intakeServiceImpl struct {
	IntakeDeps
	now func() time.Time
}

// NewIntakeService creates a new IntakeService
func NewIntakeService(deps IntakeDeps) IntakeService {
	return &intakeServiceImpl{
		IntakeDeps: deps,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Receive opens a workflow for the message and hands it to the worker pool
func (s *intakeServiceImpl) Receive(ctx context.Context, msg entity.InboundMessage) (*entity.WorkflowInstance, error) {
	if err := utils.ValidateStruct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, utils.DescribeValidationError(err))
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	instance, err := s.Engine.CreateInstance(ctx, workflow.CreateInstanceRequest{
		ConversationID: msg.ConversationID,
		WorkflowType:   entity.WorkflowTypeSMSProcessing,
		TenantID:       msg.TenantID,
		PhoneNumber:    msg.PhoneNumber,
		Metadata: map[string]interface{}{
			"content_length": len(msg.Content),
			"message_type":   "sms",
			"correlation_id": msg.CorrelationID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.recordStep(ctx, instance.ID, StepSMSReceived, entity.StepTypeAPICall,
		map[string]interface{}{"phone_number": msg.PhoneNumber, "content_length": len(msg.Content)},
		func() (map[string]interface{}, error) {
			return map[string]interface{}{"correlation_id": msg.CorrelationID}, nil
		})

	instance, err = s.Engine.TransitionState(ctx, instance.ID, domainwf.StatusProcessing, "")
	if err != nil {
		return nil, err
	}

	if err := s.Queue.Enqueue(ctx, port.IntakeJob{WorkflowID: instance.ID, Message: msg}); err != nil {
		s.Logger.Error("Failed to enqueue inbound message", "workflow_id", instance.ID, "error", err)
		s.fail(ctx, instance.ID, fmt.Sprintf("enqueue failed: %v", err))
		return nil, err
	}

	s.Logger.Info("Inbound SMS accepted",
		"workflow_id", instance.ID,
		"conversation_id", msg.ConversationID,
		"tenant_id", msg.TenantID,
		"correlation_id", msg.CorrelationID)

	return instance, nil
}

// Process runs the pipeline for one message. Lookups degrade to empty context,
// generation failure fails the workflow, and the score picks the route.
func (s *intakeServiceImpl) Process(ctx context.Context, msg entity.InboundMessage, workflowID string) error {
	tenant := s.tenantContext(ctx, workflowID, msg.TenantID)
	history := s.history(ctx, workflowID, msg.PhoneNumber)

	if signal := s.detectEscalation(ctx, workflowID, msg.Content); signal != nil && signal.ShouldEscalate {
		reason := strings.Join(signal.Reasons, ", ")
		return s.escalate(ctx, workflowID, msg, EscalationNotice{
			WorkflowID:      workflowID,
			TenantID:        msg.TenantID,
			PhoneNumber:     msg.PhoneNumber,
			OriginalMessage: msg.Content,
			Reason:          "escalation trigger: " + reason,
		})
	}

	language := tenant.Language()
	var generated *port.GeneratedResponse
	err := s.recordStep(ctx, workflowID, StepGenerateResponse, entity.StepTypeAIProcessing,
		map[string]interface{}{"language": language, "history_length": len(history)},
		func() (map[string]interface{}, error) {
			var err error
			generated, err = s.Generator.Generate(ctx, port.GenerationRequest{
				TenantMessage: msg.Content,
				Tenant:        tenant,
				History:       history,
				Language:      language,
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"model":          generated.Model,
				"tokens":         generated.TotalTokens(),
				"response_chars": len(generated.Text),
			}, nil
		})
	if err != nil {
		s.fail(ctx, workflowID, fmt.Sprintf("response generation failed: %v", err))
		return fmt.Errorf("generate response: %w", err)
	}
	if generated.Language != "" {
		language = generated.Language
	}

	replyText := ai.StripPlanMarker(generated.Text)
	score := s.Scorer.Score(replyText, tenant, history, language)

	plan := s.evaluatePlan(ctx, workflowID, msg, generated.Text, tenant)
	if plan != nil {
		score = ai.AdjustScore(score, plan.Validation.ConfidenceAdjustment)
	}

	decision := s.Approvals.RouteResponse(score)
	if plan != nil && decision == ai.DecisionAutoSend && !plan.Validation.Status.Acceptable() {
		decision = ai.DecisionQueueForApproval
	}

	metadata := map[string]interface{}{
		"model":    generated.Model,
		"decision": decision.String(),
	}
	if plan != nil {
		metadata["payment_plan_status"] = string(plan.Validation.Status)
	}
	scored := entity.NewScoredResponse(replyText, score, language, generated.TotalTokens(), metadata)

	s.recordStep(ctx, workflowID, StepScoreResponse, entity.StepTypeAIProcessing, nil,
		func() (map[string]interface{}, error) {
			return map[string]interface{}{
				"confidence_score": score.StringFixed(3),
				"decision":         decision.String(),
			}, nil
		})

	switch decision {
	case ai.DecisionAutoSend:
		return s.autoSend(ctx, workflowID, msg, scored)
	case ai.DecisionQueueForApproval:
		return s.queueForApproval(ctx, workflowID, msg, scored)
	default:
		confidence := scored.Confidence()
		return s.escalate(ctx, workflowID, msg, EscalationNotice{
			WorkflowID:      workflowID,
			TenantID:        msg.TenantID,
			PhoneNumber:     msg.PhoneNumber,
			ConfidenceScore: &confidence,
			ResponseText:    scored.Text(),
			OriginalMessage: msg.Content,
			Reason:          fmt.Sprintf("low confidence score %s", confidence.StringFixed(2)),
		})
	}
}

func (s *intakeServiceImpl) autoSend(ctx context.Context, workflowID string, msg entity.InboundMessage, scored *entity.ScoredResponse) error {
	var messageID string
	err := s.recordStep(ctx, workflowID, StepSendSMS, entity.StepTypeAPICall,
		map[string]interface{}{"phone_number": msg.PhoneNumber, "chars": len(scored.Text())},
		func() (map[string]interface{}, error) {
			var err error
			messageID, err = s.SMS.Send(ctx, msg.PhoneNumber, scored.Text())
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"message_id": messageID}, nil
		})
	if err != nil {
		metrics.RecordSMS("failed")
		s.fail(ctx, workflowID, fmt.Sprintf("sms delivery failed: %v", err))
		return fmt.Errorf("send reply: %w", err)
	}
	metrics.RecordSMS("sent")

	if _, err := s.Engine.TransitionState(ctx, workflowID, domainwf.StatusSent, ""); err != nil {
		return err
	}

	if _, err := s.Timeouts.Register(ctx, workflowID, msg.PhoneNumber, s.now(), 0); err != nil {
		s.Logger.Error("Failed to track response timeout", "workflow_id", workflowID, "error", err)
	}

	s.Logger.Info("Reply sent automatically",
		"workflow_id", workflowID,
		"message_id", messageID,
		"confidence_score", scored.Confidence().StringFixed(2))
	return nil
}

func (s *intakeServiceImpl) queueForApproval(ctx context.Context, workflowID string, msg entity.InboundMessage, scored *entity.ScoredResponse) error {
	var entry *entity.ApprovalQueueEntry
	err := s.recordStep(ctx, workflowID, StepQueueApproval, entity.StepTypeDatabaseOperation,
		map[string]interface{}{"confidence_score": scored.Confidence().StringFixed(3)},
		func() (map[string]interface{}, error) {
			var err error
			entry, err = s.Approvals.CreateEntry(ctx, CreateEntryRequest{
				WorkflowID:      workflowID,
				TenantID:        msg.TenantID,
				PhoneNumber:     msg.PhoneNumber,
				OriginalMessage: msg.Content,
				AIResponse:      scored.Text(),
				ConfidenceScore: scored.Confidence(),
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"queue_id": entry.ID}, nil
		})
	if err != nil {
		s.fail(ctx, workflowID, fmt.Sprintf("approval queueing failed: %v", err))
		return fmt.Errorf("queue for approval: %w", err)
	}

	if _, err := s.Engine.TransitionState(ctx, workflowID, domainwf.StatusAwaitingApproval, ""); err != nil {
		return err
	}

	s.Logger.Info("Reply queued for approval", "workflow_id", workflowID, "queue_id", entry.ID)
	return nil
}

func (s *intakeServiceImpl) escalate(ctx context.Context, workflowID string, msg entity.InboundMessage, notice EscalationNotice) error {
	if _, err := s.Engine.TransitionState(ctx, workflowID, domainwf.StatusEscalated, notice.Reason); err != nil {
		return err
	}

	notice.EscalatedBy = entity.SystemActor
	notice.EscalatedAt = s.now()
	notice.EscalationID = fmt.Sprintf("escalation-%s-%d", workflowID, notice.EscalatedAt.Unix())

	s.recordStep(ctx, workflowID, StepNotifyEscalation, entity.StepTypeNotification,
		map[string]interface{}{"reason": notice.Reason},
		func() (map[string]interface{}, error) {
			if err := s.Notifications.NotifyEscalation(ctx, notice); err != nil {
				return nil, err
			}
			return map[string]interface{}{"escalation_id": notice.EscalationID}, nil
		})

	s.Logger.Info("Conversation escalated",
		"workflow_id", workflowID,
		"tenant_id", msg.TenantID,
		"reason", notice.Reason)
	return nil
}

// evaluatePlan grades any payment plan in the exchange and records it against the workflow.
// A plan that cannot be stored still shapes routing.
func (s *intakeServiceImpl) evaluatePlan(ctx context.Context, workflowID string, msg entity.InboundMessage, reply string, tenant entity.TenantContext) *PlanEvaluation {
	if s.Plans == nil {
		return nil
	}

	plan := s.Plans.Evaluate(msg.Content, reply, &tenant)
	if plan == nil {
		return nil
	}

	_ = s.recordStep(ctx, workflowID, StepPaymentPlan, entity.StepTypeAIProcessing,
		map[string]interface{}{"extracted_from": string(plan.Source)},
		func() (map[string]interface{}, error) {
			attempt, err := s.Plans.Record(ctx, workflowID, msg.ConversationID, msg.TenantID, plan)
			if err != nil {
				s.Logger.Error("Failed to record payment plan", "workflow_id", workflowID, "error", err)
				return nil, err
			}
			return map[string]interface{}{
				"payment_plan_id":       attempt.ID,
				"status":                string(plan.Validation.Status),
				"confidence_adjustment": plan.Validation.ConfidenceAdjustment.StringFixed(2),
			}, nil
		})
	return plan
}

func (s *intakeServiceImpl) tenantContext(ctx context.Context, workflowID, tenantID string) entity.TenantContext {
	tenant := entity.TenantContext{TenantID: tenantID}
	_ = s.recordStep(ctx, workflowID, StepFetchTenantContext, entity.StepTypeAPICall,
		map[string]interface{}{"tenant_id": tenantID},
		func() (map[string]interface{}, error) {
			fetched, err := s.Tenants.TenantContext(ctx, tenantID)
			if err != nil {
				s.Logger.Error("Tenant context unavailable, continuing without it", "tenant_id", tenantID, "error", err)
				return nil, err
			}
			if fetched != nil {
				tenant = *fetched
			}
			return map[string]interface{}{"language": tenant.Language()}, nil
		})
	return tenant
}

func (s *intakeServiceImpl) history(ctx context.Context, workflowID, phone string) []entity.ConversationMessage {
	var history []entity.ConversationMessage
	_ = s.recordStep(ctx, workflowID, StepFetchHistory, entity.StepTypeAPICall, nil,
		func() (map[string]interface{}, error) {
			messages, err := s.Conversations.History(ctx, phone)
			if err != nil {
				s.Logger.Error("Conversation history unavailable, continuing without it", "workflow_id", workflowID, "error", err)
				return nil, err
			}
			history = messages
			return map[string]interface{}{"messages": len(messages)}, nil
		})
	return history
}

func (s *intakeServiceImpl) detectEscalation(ctx context.Context, workflowID, content string) *entity.EscalationSignal {
	var signal *entity.EscalationSignal
	_ = s.recordStep(ctx, workflowID, StepEscalationCheck, entity.StepTypeAIProcessing, nil,
		func() (map[string]interface{}, error) {
			var err error
			signal, err = s.Detector.Detect(ctx, content)
			if err != nil {
				s.Logger.Error("Escalation detection failed, assuming no escalation", "workflow_id", workflowID, "error", err)
				signal = nil
				return nil, err
			}
			return map[string]interface{}{
				"should_escalate": signal.ShouldEscalate,
				"reasons":         signal.Reasons,
			}, nil
		})
	return signal
}

// recordStep wraps fn in a started step and completes it with fn's outcome.
// Step bookkeeping failures are logged and never change fn's result.
func (s *intakeServiceImpl) recordStep(
	ctx context.Context,
	workflowID, name string,
	stepType entity.StepType,
	input map[string]interface{},
	fn func() (map[string]interface{}, error),
) error {
	step, stepErr := s.Engine.AddStep(ctx, workflowID, name, stepType, input)
	if stepErr != nil {
		s.Logger.Error("Failed to start workflow step", "workflow_id", workflowID, "step", name, "error", stepErr)
	}

	output, err := fn()

	if step != nil {
		status, detail := entity.StepStatusCompleted, ""
		if err != nil {
			status, detail = entity.StepStatusFailed, err.Error()
		}
		if _, cerr := s.Engine.CompleteStep(ctx, step.ID, status, output, detail); cerr != nil {
			s.Logger.Error("Failed to complete workflow step", "workflow_id", workflowID, "step", name, "error", cerr)
		}
	}
	return err
}

func (s *intakeServiceImpl) fail(ctx context.Context, workflowID, reason string) {
	if _, err := s.Engine.TransitionState(ctx, workflowID, domainwf.StatusFailed, reason); err != nil && !errors.Is(err, domainwf.ErrInvalidTransition) {
		s.Logger.Error("Failed to mark workflow failed", "workflow_id", workflowID, "error", err)
	}
}
