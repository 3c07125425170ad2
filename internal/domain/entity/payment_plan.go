package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanConfidence is the coarse confidence band of an extracted payment plan
type PlanConfidence string

const (
	PlanConfidenceHigh   PlanConfidence = "high"
	PlanConfidenceMedium PlanConfidence = "medium"
	PlanConfidenceLow    PlanConfidence = "low"
)

// PaymentPlanStatus is the outcome of validating a payment plan
type PaymentPlanStatus string

const (
	PaymentPlanValid        PaymentPlanStatus = "valid"
	PaymentPlanInvalid      PaymentPlanStatus = "invalid"
	PaymentPlanNeedsReview  PaymentPlanStatus = "needs_review"
	PaymentPlanAutoApproved PaymentPlanStatus = "auto_approved"
)

// Acceptable reports whether a reply carrying the plan may go out without review
func (s PaymentPlanStatus) Acceptable() bool {
	return s == PaymentPlanValid || s == PaymentPlanAutoApproved
}

// PlanSource records which text a plan was extracted from
type PlanSource string

const (
	PlanSourceTenantMessage PlanSource = "tenant_message"
	PlanSourceAIResponse    PlanSource = "ai_response"
)

// Issue severities
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ExtractedPaymentPlan is a weekly payment arrangement found in free text
type ExtractedPaymentPlan struct {
	WeeklyAmount    decimal.Decimal `json:"weekly_amount"`
	DurationWeeks   int             `json:"duration_weeks"`
	StartDate       *time.Time      `json:"start_date,omitempty"`
	Confidence      PlanConfidence  `json:"confidence"`
	ConfidenceScore float64         `json:"confidence_score"`
	Patterns        []string        `json:"extraction_patterns"`
	RawText         string          `json:"raw_text"`
}

// IsComplete reports whether both the amount and the duration were found
func (p *ExtractedPaymentPlan) IsComplete() bool {
	return p.WeeklyAmount.IsPositive() && p.DurationWeeks > 0
}

// TotalAmount is the sum paid over the whole plan
func (p *ExtractedPaymentPlan) TotalAmount() decimal.Decimal {
	return p.WeeklyAmount.Mul(decimal.NewFromInt(int64(p.DurationWeeks)))
}

// PlanIssue is one rule a payment plan broke or came close to breaking
type PlanIssue struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	RuleCode string `json:"rule_code"`
}

// PaymentPlanValidation is the verdict on an extracted plan
type PaymentPlanValidation struct {
	Status               PaymentPlanStatus `json:"status"`
	IsValid              bool              `json:"is_valid"`
	IsAutoApprovable     bool              `json:"is_auto_approvable"`
	Errors               []PlanIssue       `json:"errors"`
	Warnings             []PlanIssue       `json:"warnings"`
	Info                 []PlanIssue       `json:"info"`
	ConfidenceAdjustment decimal.Decimal   `json:"confidence_adjustment"`
	Summary              string            `json:"summary"`
}

// HasRule reports whether any issue carries the rule code
func (v *PaymentPlanValidation) HasRule(code string) bool {
	for _, list := range [][]PlanIssue{v.Errors, v.Warnings, v.Info} {
		for _, issue := range list {
			if issue.RuleCode == code {
				return true
			}
		}
	}
	return false
}

// PaymentPlanAttempt is a stored extraction together with its validation
type PaymentPlanAttempt struct {
	ID                   string                 `json:"id"`
	WorkflowID           string                 `json:"workflow_id"`
	ConversationID       string                 `json:"conversation_id"`
	TenantID             string                 `json:"tenant_id"`
	ExtractedFrom        PlanSource             `json:"extracted_from"`
	WeeklyAmount         decimal.Decimal        `json:"weekly_amount"`
	DurationWeeks        int                    `json:"duration_weeks"`
	StartDate            *time.Time             `json:"start_date,omitempty"`
	ExtractionConfidence float64                `json:"extraction_confidence"`
	RawText              string                 `json:"raw_text"`
	Status               PaymentPlanStatus      `json:"status"`
	Validation           *PaymentPlanValidation `json:"validation_result"`
	CreatedAt            time.Time              `json:"created_at"`
}

// Clone returns a copy safe to hand out of a store
func (a *PaymentPlanAttempt) Clone() *PaymentPlanAttempt {
	c := *a
	if a.StartDate != nil {
		t := *a.StartDate
		c.StartDate = &t
	}
	if a.Validation != nil {
		v := *a.Validation
		v.Errors = append([]PlanIssue(nil), a.Validation.Errors...)
		v.Warnings = append([]PlanIssue(nil), a.Validation.Warnings...)
		v.Info = append([]PlanIssue(nil), a.Validation.Info...)
		c.Validation = &v
	}
	return &c
}
