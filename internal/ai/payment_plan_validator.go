package ai

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/pkg/utils"
)

// Payment plan business rules
const (
	MinWeeklyPayment   = 25
	MaxWeeklyPayment   = 1000
	MinPlanWeeks       = 1
	MaxPlanWeeks       = 12
	shortPlanWeeks     = 2
	longPlanWeeks      = 10
	maxStartDaysAhead  = 30
	autoApproveWeeks   = 8
	missedPaymentLimit = 2
)

var (
	autoApproveAmount = decimal.NewFromInt(50)
	balanceShareFloor = decimal.RequireFromString("0.1")
	maxPlanWeeksDec   = decimal.NewFromInt(MaxPlanWeeks)
)

// Score adjustments applied to a reply that carries a plan, by validation status
var planAdjustments = map[entity.PaymentPlanStatus]decimal.Decimal{
	entity.PaymentPlanInvalid:      decimal.RequireFromString("-0.20"),
	entity.PaymentPlanNeedsReview:  decimal.RequireFromString("-0.05"),
	entity.PaymentPlanValid:        decimal.Zero,
	entity.PaymentPlanAutoApproved: decimal.RequireFromString("0.05"),
}

// planTerms carries the rules enforced through struct tags
type planTerms struct {
	WeeklyAmount  float64 `json:"weekly_amount" validate:"required,gte=25,lte=1000"`
	DurationWeeks int     `json:"duration_weeks" validate:"required,gte=1,lte=12"`
}

// PlanContext is what the validator knows about the tenant proposing a plan
type PlanContext struct {
	OutstandingBalance decimal.Decimal
	MissedPayments     int
	ExistingPlans      int
}

// PlanContextFromTenant builds a PlanContext from collections data
func PlanContextFromTenant(t entity.TenantContext) *PlanContext {
	return &PlanContext{
		OutstandingBalance: decimal.NewFromFloat(t.OutstandingBalance),
		MissedPayments:     t.MissedPayments,
		ExistingPlans:      t.ExistingPaymentPlans,
	}
}

// PaymentPlanValidator checks extracted plans against the payment plan business rules
type PaymentPlanValidator struct {
	now func() time.Time
}

// NewPaymentPlanValidator creates a validator. A nil clock uses the wall clock.
func NewPaymentPlanValidator(now func() time.Time) *PaymentPlanValidator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PaymentPlanValidator{now: now}
}

// Validate grades plan. Errors make it invalid; warnings send it to review.
// Info notes never change the status.
func (v *PaymentPlanValidator) Validate(plan *entity.ExtractedPaymentPlan, pc *PlanContext) *entity.PaymentPlanValidation {
	result := &entity.PaymentPlanValidation{}

	result.Errors = append(result.Errors, termIssues(plan)...)
	result.Warnings = append(result.Warnings, durationWarnings(plan.DurationWeeks)...)

	if plan.Confidence == entity.PlanConfidenceLow || plan.Confidence == "" {
		result.Errors = append(result.Errors, entity.PlanIssue{
			Field:    "confidence",
			Message:  fmt.Sprintf("Confidence level %s is too low for reliable processing", entity.PlanConfidenceLow),
			Severity: entity.SeverityError,
			RuleCode: "LOW_CONFIDENCE",
		})
	}

	v.checkStartDate(plan.StartDate, result)

	if pc != nil {
		result.Warnings = append(result.Warnings, contextWarnings(plan, pc)...)
	}

	result.IsValid = len(result.Errors) == 0
	result.IsAutoApprovable = result.IsValid &&
		plan.Confidence == entity.PlanConfidenceHigh &&
		plan.WeeklyAmount.GreaterThanOrEqual(autoApproveAmount) &&
		plan.DurationWeeks <= autoApproveWeeks

	switch {
	case !result.IsValid:
		result.Status = entity.PaymentPlanInvalid
		result.Summary = fmt.Sprintf("Payment plan is invalid due to %d error(s)", len(result.Errors))
	case result.IsAutoApprovable:
		result.Status = entity.PaymentPlanAutoApproved
		result.Summary = "Payment plan is valid and eligible for auto-approval"
	case len(result.Warnings) > 0:
		result.Status = entity.PaymentPlanNeedsReview
		result.Summary = fmt.Sprintf("Payment plan requires review due to %d warning(s)", len(result.Warnings))
	default:
		result.Status = entity.PaymentPlanValid
		result.Summary = "Payment plan is valid and ready for review"
	}
	result.ConfidenceAdjustment = planAdjustments[result.Status]

	return result
}

func termIssues(plan *entity.ExtractedPaymentPlan) []entity.PlanIssue {
	err := utils.ValidateStruct(planTerms{
		WeeklyAmount:  plan.WeeklyAmount.InexactFloat64(),
		DurationWeeks: plan.DurationWeeks,
	})
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return nil
	}

	issues := make([]entity.PlanIssue, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		issues = append(issues, termIssue(fe.Field(), fe.Tag(), plan))
	}
	return issues
}

func termIssue(field, tag string, plan *entity.ExtractedPaymentPlan) entity.PlanIssue {
	issue := entity.PlanIssue{Field: field, Severity: entity.SeverityError}
	amount := plan.WeeklyAmount.StringFixed(2)

	switch field + "/" + tag {
	case "weekly_amount/required":
		issue.RuleCode, issue.Message = "AMOUNT_REQUIRED", "Weekly payment amount is required"
	case "weekly_amount/gte":
		issue.RuleCode = "AMOUNT_BELOW_MINIMUM"
		issue.Message = fmt.Sprintf("Weekly payment $%s is below minimum $%d.00", amount, MinWeeklyPayment)
	case "weekly_amount/lte":
		issue.RuleCode = "AMOUNT_ABOVE_MAXIMUM"
		issue.Message = fmt.Sprintf("Weekly payment $%s is above maximum $%d.00", amount, MaxWeeklyPayment)
	case "duration_weeks/required":
		issue.RuleCode, issue.Message = "DURATION_REQUIRED", "Payment plan duration is required"
	case "duration_weeks/gte":
		issue.RuleCode = "DURATION_BELOW_MINIMUM"
		issue.Message = fmt.Sprintf("Duration %d weeks is below minimum %d weeks", plan.DurationWeeks, MinPlanWeeks)
	case "duration_weeks/lte":
		issue.RuleCode = "DURATION_ABOVE_MAXIMUM"
		issue.Message = fmt.Sprintf("Duration %d weeks exceeds maximum %d weeks", plan.DurationWeeks, MaxPlanWeeks)
	default:
		issue.RuleCode, issue.Message = "INVALID_TERMS", fmt.Sprintf("%s failed %s", field, tag)
	}
	return issue
}

func durationWarnings(weeks int) []entity.PlanIssue {
	switch {
	case weeks < MinPlanWeeks || weeks > MaxPlanWeeks:
		return nil
	case weeks <= shortPlanWeeks:
		return []entity.PlanIssue{{
			Field:    "duration_weeks",
			Message:  fmt.Sprintf("Short payment plan (%d weeks) may indicate temporary arrangement", weeks),
			Severity: entity.SeverityWarning,
			RuleCode: "SHORT_DURATION",
		}}
	case weeks >= longPlanWeeks:
		return []entity.PlanIssue{{
			Field:    "duration_weeks",
			Message:  fmt.Sprintf("Extended payment plan (%d weeks) requires additional review", weeks),
			Severity: entity.SeverityWarning,
			RuleCode: "LONG_DURATION",
		}}
	}
	return nil
}

// checkStartDate compares calendar days, so tomorrow is one day ahead whatever the hour
func (v *PaymentPlanValidator) checkStartDate(start *time.Time, result *entity.PaymentPlanValidation) {
	if start == nil {
		result.Info = append(result.Info, entity.PlanIssue{
			Field:    "start_date",
			Message:  "No start date specified - will assume immediate start",
			Severity: entity.SeverityInfo,
			RuleCode: "NO_START_DATE",
		})
		return
	}

	days := calendarDaysBetween(v.now(), *start)
	switch {
	case days < 0:
		result.Errors = append(result.Errors, entity.PlanIssue{
			Field:    "start_date",
			Message:  "Start date cannot be in the past",
			Severity: entity.SeverityError,
			RuleCode: "PAST_START_DATE",
		})
	case days < 1:
		result.Warnings = append(result.Warnings, entity.PlanIssue{
			Field:    "start_date",
			Message:  "Start date is very soon - ensure tenant has time to prepare",
			Severity: entity.SeverityWarning,
			RuleCode: "IMMEDIATE_START",
		})
	case days > maxStartDaysAhead:
		result.Errors = append(result.Errors, entity.PlanIssue{
			Field:    "start_date",
			Message:  fmt.Sprintf("Start date %d days in future is too far ahead", days),
			Severity: entity.SeverityError,
			RuleCode: "START_DATE_TOO_FAR",
		})
	}
}

func contextWarnings(plan *entity.ExtractedPaymentPlan, pc *PlanContext) []entity.PlanIssue {
	var warnings []entity.PlanIssue

	if pc.OutstandingBalance.IsPositive() && plan.WeeklyAmount.IsPositive() {
		covered := plan.WeeklyAmount.Mul(maxPlanWeeksDec)
		if covered.LessThan(pc.OutstandingBalance.Mul(balanceShareFloor)) {
			warnings = append(warnings, entity.PlanIssue{
				Field:    "weekly_amount",
				Message:  "Payment plan may be insufficient to address outstanding balance",
				Severity: entity.SeverityWarning,
				RuleCode: "INSUFFICIENT_PAYMENT",
			})
		}
	}
	if pc.ExistingPlans > 0 {
		warnings = append(warnings, entity.PlanIssue{
			Field:    "tenant_context",
			Message:  fmt.Sprintf("Tenant has %d existing payment plan(s) - review compatibility", pc.ExistingPlans),
			Severity: entity.SeverityWarning,
			RuleCode: "EXISTING_PAYMENT_PLANS",
		})
	}
	if pc.MissedPayments > missedPaymentLimit {
		warnings = append(warnings, entity.PlanIssue{
			Field:    "tenant_context",
			Message:  "Tenant has history of missed payments - review plan feasibility",
			Severity: entity.SeverityWarning,
			RuleCode: "PAYMENT_HISTORY_CONCERNS",
		})
	}
	return warnings
}

func calendarDaysBetween(from, to time.Time) int {
	to = to.In(from.Location())
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// AdjustScore applies a plan's confidence adjustment to a reply score, keeping it within [0,1]
func AdjustScore(score, adjustment decimal.Decimal) decimal.Decimal {
	return clamp(score.Add(adjustment))
}
