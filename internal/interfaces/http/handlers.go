package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/sms-orchestrator/internal/application/service"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	domainwf "github.com/garyjia/sms-orchestrator/internal/domain/workflow"
)

// CorrelationHeader carries a caller-supplied correlation id for inbound SMS
const CorrelationHeader = "X-Correlation-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// SMSReceivedResponse acknowledges an accepted inbound message
type SMSReceivedResponse struct {
	WorkflowID     string `json:"workflow_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// RecoverRequest selects how a failed workflow resumes
type RecoverRequest struct {
	Strategy domainwf.RecoveryStrategy `json:"strategy"`
}

// PaymentPlanDetectedResponse reports what, if anything, was found in an exchange
type PaymentPlanDetectedResponse struct {
	Detected      bool                          `json:"detected"`
	PaymentPlan   *entity.ExtractedPaymentPlan  `json:"payment_plan,omitempty"`
	ExtractedFrom entity.PlanSource             `json:"extracted_from,omitempty"`
	Validation    *entity.PaymentPlanValidation `json:"validation,omitempty"`
	PaymentPlanID string                        `json:"payment_plan_id,omitempty"`
	WorkflowID    string                        `json:"workflow_id,omitempty"`
	Message       string                        `json:"message"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) fail(c *gin.Context, err error, fallback string) {
	status, code := classifyError(err, fallback)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", code,
			"error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg, Code: CodeValidationError})
}

// SMSReceived handles POST /api/v1/orchestrate/sms-received
func (h *Handlers) SMSReceived(c *gin.Context) {
	var msg entity.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = c.GetHeader(CorrelationHeader)
	}

	instance, err := h.deps.Intake.Receive(c.Request.Context(), msg)
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	correlationID, _ := instance.Metadata["correlation_id"].(string)
	ok(c, http.StatusCreated, SMSReceivedResponse{
		WorkflowID:     instance.ID,
		ConversationID: instance.ConversationID,
		Status:         instance.Status.String(),
		CorrelationID:  correlationID,
	})
}

// ApproveResponse handles POST /api/v1/orchestrate/approve-response
func (h *Handlers) ApproveResponse(c *gin.Context) {
	var req service.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := h.deps.Approvals.ProcessAction(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, CodeActionProcessingFailed)
		return
	}

	ok(c, http.StatusOK, result)
}

// PendingApprovals handles GET /api/v1/orchestrate/pending-approvals
func (h *Handlers) PendingApprovals(c *gin.Context) {
	entries, err := h.deps.Approvals.GetPending(c.Request.Context())
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}
	if entries == nil {
		entries = []*entity.ApprovalQueueEntry{}
	}

	ok(c, http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// AuditLogs handles GET /api/v1/orchestrate/approval-audit-logs
func (h *Handlers) AuditLogs(c *gin.Context) {
	logs, err := h.deps.Approvals.GetAuditLogs(c.Request.Context(), c.Query("queue_id"))
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}
	if logs == nil {
		logs = []*entity.ApprovalAuditLogEntry{}
	}

	ok(c, http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// ExportAuditLogs handles GET /api/v1/orchestrate/approval-audit-logs/export
func (h *Handlers) ExportAuditLogs(c *gin.Context) {
	queueID := c.Query("queue_id")
	data, err := h.deps.Approvals.ExportAuditLogs(c.Request.Context(), queueID)
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	name := "approval-audit-logs"
	if queueID != "" {
		name += "-" + queueID
	}
	filename := fmt.Sprintf("%s-%s.xlsx", name, time.Now().UTC().Format("20060102"))

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, h.deps.Approvals.ExportContentType(), data)
}

// CheckApprovalTimeouts handles POST /api/v1/orchestrate/check-approval-timeouts
func (h *Handlers) CheckApprovalTimeouts(c *gin.Context) {
	escalated, err := h.deps.Approvals.CheckApprovalTimeouts(c.Request.Context())
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, gin.H{"escalated": escalated})
}

// WorkflowStatus handles GET /api/v1/orchestrate/workflow/:id/status.
// The id is a conversation id; the latest workflow of that conversation is returned.
func (h *Handlers) WorkflowStatus(c *gin.Context) {
	view, err := h.deps.Engine.GetByConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, view)
}

// RecoverWorkflow handles POST /api/v1/orchestrate/workflow/:id/recover
func (h *Handlers) RecoverWorkflow(c *gin.Context) {
	var req RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Strategy == "" {
		req.Strategy = domainwf.RecoveryRetry
	}

	instance, err := h.deps.Engine.Recover(c.Request.Context(), c.Param("id"), req.Strategy)
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, instance)
}

// PaymentPlanDetected handles POST /api/v1/orchestrate/payment-plan-detected
func (h *Handlers) PaymentPlanDetected(c *gin.Context) {
	var req service.DetectPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	detection, err := h.deps.Plans.Detect(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}
	if detection.Attempt == nil {
		ok(c, http.StatusOK, PaymentPlanDetectedResponse{
			Message: "No payment plan detected in the provided message content",
		})
		return
	}

	eval := detection.Evaluation
	ok(c, http.StatusOK, PaymentPlanDetectedResponse{
		Detected:      true,
		PaymentPlan:   eval.Plan,
		ExtractedFrom: eval.Source,
		Validation:    eval.Validation,
		PaymentPlanID: detection.Attempt.ID,
		WorkflowID:    detection.WorkflowID,
		Message:       eval.Validation.Summary,
	})
}

// GetPaymentPlan handles GET /api/v1/orchestrate/payment-plans/:id
func (h *Handlers) GetPaymentPlan(c *gin.Context) {
	attempt, err := h.deps.Plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, attempt)
}

// ConversationPaymentPlans handles GET /api/v1/orchestrate/workflow/:id/payment-plans.
// Like the status route, the id is a conversation id.
func (h *Handlers) ConversationPaymentPlans(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.deps.Plans.ListByConversation(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, page)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// TimeoutStatistics handles GET /api/v1/escalations/timeouts/statistics
func (h *Handlers) TimeoutStatistics(c *gin.Context) {
	stats, err := h.deps.Timeouts.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, stats)
}

// CheckTimeouts handles POST /api/v1/escalations/timeouts/check
func (h *Handlers) CheckTimeouts(c *gin.Context) {
	result, err := h.deps.Timeouts.ProcessTimeouts(c.Request.Context())
	if err != nil {
		h.fail(c, err, CodeInternalError)
		return
	}

	ok(c, http.StatusOK, result)
}

// CircuitBreakers handles GET /api/v1/circuit-breakers
func (h *Handlers) CircuitBreakers(c *gin.Context) {
	if h.deps.Breakers == nil {
		ok(c, http.StatusOK, gin.H{"breakers": []interface{}{}})
		return
	}
	ok(c, http.StatusOK, gin.H{"breakers": h.deps.Breakers.Statuses()})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.deps.Health != nil {
		healthy, details = h.deps.Health(c.Request.Context())
	}

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: details,
	}
	if !healthy {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp, Error: "one or more components unhealthy", Code: CodeServiceUnavailable})
		return
	}

	ok(c, http.StatusOK, resp)
}
