package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/sms-orchestrator/internal/ai"
	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/application/workflow"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

// Paging bounds for plan listings
const (
	DefaultPlanPageSize = 50
	MaxPlanPageSize     = 100
)

// PaymentPlanService finds payment plans in conversations, grades them and keeps a record of every attempt
type PaymentPlanService interface {
	// Evaluate extracts a plan from the tenant message, then from the reply, and validates it.
	// It returns nil when neither text describes a complete plan.
	Evaluate(tenantMessage, aiResponse string, tenant *entity.TenantContext) *PlanEvaluation

	// Detect evaluates the request and stores the result against the conversation's latest
	// workflow, opening a payment plan validation workflow when the conversation has none
	Detect(ctx context.Context, req DetectPlanRequest) (*PlanDetection, error)

	// Record stores an evaluation against an existing workflow
	Record(ctx context.Context, workflowID, conversationID, tenantID string, eval *PlanEvaluation) (*entity.PaymentPlanAttempt, error)

	Get(ctx context.Context, id string) (*entity.PaymentPlanAttempt, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.PaymentPlanAttempt, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) (*PlanPage, error)
}

// PlanEvaluation is an extracted plan with its verdict
type PlanEvaluation struct {
	Plan       *entity.ExtractedPaymentPlan  `json:"payment_plan"`
	Source     entity.PlanSource             `json:"extracted_from"`
	Validation *entity.PaymentPlanValidation `json:"validation"`
}

// DetectPlanRequest asks for plan detection in one exchange of a conversation
type DetectPlanRequest struct {
	ConversationID string                `json:"conversation_id" validate:"required,conversation_id"`
	TenantID       string                `json:"tenant_id" validate:"required"`
	PhoneNumber    string                `json:"phone_number,omitempty" validate:"omitempty,phone"`
	MessageContent string                `json:"message_content" validate:"required"`
	AIResponse     string                `json:"ai_response,omitempty"`
	TenantContext  *entity.TenantContext `json:"tenant_context,omitempty"`
}

// PlanDetection is the outcome of Detect. Attempt is nil when no plan was found.
type PlanDetection struct {
	Evaluation *PlanEvaluation
	Attempt    *entity.PaymentPlanAttempt
	WorkflowID string
}

// PlanPage is one page of a conversation's plan attempts
type PlanPage struct {
	Attempts []*entity.PaymentPlanAttempt `json:"payment_plans"`
	Total    int                          `json:"total"`
	Limit    int                          `json:"limit"`
	Offset   int                          `json:"offset"`
}

type paymentPlanServiceImpl struct {
	repo      port.PaymentPlanRepository
	engine    workflow.WorkflowEngine
	extractor *ai.PaymentPlanExtractor
	validator *ai.PaymentPlanValidator
	logger    Logger
}

// NewPaymentPlanService creates a new PaymentPlanService. A nil clock uses the wall clock.
func NewPaymentPlanService(repo port.PaymentPlanRepository, engine workflow.WorkflowEngine, now func() time.Time, logger Logger) PaymentPlanService {
	return &paymentPlanServiceImpl{
		repo:      repo,
		engine:    engine,
		extractor: ai.NewPaymentPlanExtractor(now),
		validator: ai.NewPaymentPlanValidator(now),
		logger:    logger,
	}
}

func (s *paymentPlanServiceImpl) Evaluate(tenantMessage, aiResponse string, tenant *entity.TenantContext) *PlanEvaluation {
	plan, source := s.extractor.Extract(tenantMessage), entity.PlanSourceTenantMessage
	if plan == nil && aiResponse != "" {
		plan, source = s.extractor.ExtractFromReply(aiResponse), entity.PlanSourceAIResponse
	}
	if plan == nil {
		return nil
	}

	var pc *ai.PlanContext
	if tenant != nil {
		pc = ai.PlanContextFromTenant(*tenant)
	}
	return &PlanEvaluation{
		Plan:       plan,
		Source:     source,
		Validation: s.validator.Validate(plan, pc),
	}
}

func (s *paymentPlanServiceImpl) Detect(ctx context.Context, req DetectPlanRequest) (*PlanDetection, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, utils.DescribeValidationError(err))
	}

	eval := s.Evaluate(req.MessageContent, req.AIResponse, req.TenantContext)
	if eval == nil {
		s.logger.Info("No payment plan detected", "conversation_id", req.ConversationID)
		return &PlanDetection{}, nil
	}

	workflowID, err := s.workflowFor(ctx, req)
	if err != nil {
		return nil, err
	}

	attempt, err := s.Record(ctx, workflowID, req.ConversationID, req.TenantID, eval)
	if err != nil {
		return nil, err
	}
	return &PlanDetection{Evaluation: eval, Attempt: attempt, WorkflowID: workflowID}, nil
}

func (s *paymentPlanServiceImpl) workflowFor(ctx context.Context, req DetectPlanRequest) (string, error) {
	view, err := s.engine.GetByConversation(ctx, req.ConversationID)
	if err == nil {
		return view.Workflow.ID, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return "", err
	}

	instance, err := s.engine.CreateInstance(ctx, workflow.CreateInstanceRequest{
		ConversationID: req.ConversationID,
		WorkflowType:   entity.WorkflowTypePaymentPlanValidation,
		TenantID:       req.TenantID,
		PhoneNumber:    req.PhoneNumber,
		Metadata:       map[string]interface{}{"source": "payment_plan_detection"},
	})
	if err != nil {
		return "", err
	}
	return instance.ID, nil
}

func (s *paymentPlanServiceImpl) Record(ctx context.Context, workflowID, conversationID, tenantID string, eval *PlanEvaluation) (*entity.PaymentPlanAttempt, error) {
	attempt := &entity.PaymentPlanAttempt{
		ID:                   uuid.NewString(),
		WorkflowID:           workflowID,
		ConversationID:       conversationID,
		TenantID:             tenantID,
		ExtractedFrom:        eval.Source,
		WeeklyAmount:         eval.Plan.WeeklyAmount,
		DurationWeeks:        eval.Plan.DurationWeeks,
		StartDate:            eval.Plan.StartDate,
		ExtractionConfidence: eval.Plan.ConfidenceScore,
		RawText:              eval.Plan.RawText,
		Status:               eval.Validation.Status,
		Validation:           eval.Validation,
	}
	if err := s.repo.Create(ctx, attempt); err != nil {
		return nil, err
	}
	metrics.RecordPaymentPlan(string(eval.Source), string(eval.Validation.Status))

	s.logger.Info("Payment plan recorded",
		"payment_plan_id", attempt.ID,
		"workflow_id", workflowID,
		"weekly_amount", attempt.WeeklyAmount.StringFixed(2),
		"duration_weeks", attempt.DurationWeeks,
		"status", attempt.Status)
	return attempt, nil
}

func (s *paymentPlanServiceImpl) Get(ctx context.Context, id string) (*entity.PaymentPlanAttempt, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *paymentPlanServiceImpl) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.PaymentPlanAttempt, error) {
	return s.repo.ListByWorkflow(ctx, workflowID)
}

func (s *paymentPlanServiceImpl) ListByConversation(ctx context.Context, conversationID string, limit, offset int) (*PlanPage, error) {
	if limit <= 0 {
		limit = DefaultPlanPageSize
	}
	if limit > MaxPlanPageSize {
		limit = MaxPlanPageSize
	}
	if offset < 0 {
		offset = 0
	}

	attempts, total, err := s.repo.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []*entity.PaymentPlanAttempt{}
	}
	return &PlanPage{Attempts: attempts, Total: total, Limit: limit, Offset: offset}, nil
}
