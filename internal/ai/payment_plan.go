package ai

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// Extraction confidence scores
const (
	planScoreLow        = 0.3
	planScoreDollarWord = 0.6
	planScoreBothTerms  = 0.7
	planScoreDollarSign = 0.8
	planScoreWithStart  = 0.9
	planScoreStructured = 0.95
	planReplyBoost      = 0.1
	planHighBand        = 0.8
)

// Extraction bounds. Plans outside them are discarded rather than validated.
var (
	minExtractedAmount = decimal.NewFromInt(25)
	maxExtractedWeeks  = 12
)

type combinedPattern struct {
	re         *regexp.Regexp
	dollarSign bool
}

var combinedPlanPatterns = []combinedPattern{
	{regexp.MustCompile(`(?i)\$(\d+(?:\.\d{2})?)\s*(?:per|/|a)\s*week\s*(?:for|over)\s+(\d+)\s*(?:weeks?|w)\b`), true},
	{regexp.MustCompile(`(?i)pay\s*\$(\d+(?:\.\d{2})?)\s*(?:per|/|a)\s*week\s*for\s+(\d+)\s*(?:weeks?|w)\b`), true},
	{regexp.MustCompile(`(?i)\$(\d+(?:\.\d{2})?)\s*weekly\s*for\s+(\d+)\s*(?:weeks?|w)\b`), true},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:weeks?|w)\s*(?:at|@)\s*\$(\d+(?:\.\d{2})?)\s*(?:per|/|a)\s*week`), true},
	{regexp.MustCompile(`(?i)(\d+(?:\.\d{2})?)\s*dollars?\s*weekly\s*for\s+(\d+)\s*(?:weeks?|w)\b`), false},
	{regexp.MustCompile(`(?i)(\d+(?:\.\d{2})?)\s*dollars?\s*(?:per|/|a)\s*week\s*for\s+(\d+)\s*(?:weeks?|w)\b`), false},
}

var amountPatterns = compileInsensitive(
	`\$(\d+(?:\.\d{2})?)\s*(?:per|/|a)\s*week`,
	`\$(\d+(?:\.\d{2})?)\s*(?:weekly|week)`,
	`(\d+(?:\.\d{2})?)\s*dollars?\s*(?:per|/|a)\s*week`,
	`\$(\d+(?:\.\d{2})?)\s*every\s*week`,
	`(\d+(?:\.\d{2})?)\s*bucks\s*(?:per|/|a)\s*week`,
	`\$(\d+(?:\.\d{2})?)\s*/\s*week`,
	`\$(\d+(?:\.\d{2})?)\s*each\s*week`,
)

var durationPatterns = compileInsensitive(
	`(\d+)\s*(?:weeks?|w)\b`,
	`(\d+)\s*months?\b`,
)

var startDatePattern = regexp.MustCompile(
	`(?i)\b(?:starting|next|beginning|start|this|on)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

var tomorrowPattern = regexp.MustCompile(`(?i)\btomorrow\b`)

// planMarker is the structured line the reply prompt asks the model to append
var planMarker = regexp.MustCompile(`(?i)PAYMENT_PLAN:\s*weekly=(\d+(?:\.\d{2})?),\s*weeks=(\d+)`)

var planMarkerLine = regexp.MustCompile(`(?im)^[ \t]*PAYMENT_PLAN:[^\n]*\n?`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// PaymentPlanExtractor finds weekly payment arrangements in tenant messages and AI replies
type PaymentPlanExtractor struct {
	now func() time.Time
}

// NewPaymentPlanExtractor creates an extractor. A nil clock uses the wall clock.
func NewPaymentPlanExtractor(now func() time.Time) *PaymentPlanExtractor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PaymentPlanExtractor{now: now}
}

// Extract returns the complete plan described by text, or nil when there is none.
// Amounts under $25 a week and durations over 12 weeks are not treated as plans.
func (e *PaymentPlanExtractor) Extract(text string) *entity.ExtractedPaymentPlan {
	plan := &entity.ExtractedPaymentPlan{
		Confidence:      entity.PlanConfidenceLow,
		ConfidenceScore: planScoreLow,
		RawText:         text,
	}

	combined := false
	for _, p := range combinedPlanPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		combined = true
		plan.ConfidenceScore = planScoreDollarWord
		plan.Confidence = entity.PlanConfidenceMedium
		if p.dollarSign {
			plan.ConfidenceScore = planScoreDollarSign
			plan.Confidence = entity.PlanConfidenceHigh
		}
		plan.Patterns = append(plan.Patterns, "combined:amount_and_duration", "amount:combined", "duration:combined")

		amount, weeks := m[1], m[2]
		if !looksLikeAmount(amount) {
			amount, weeks = weeks, amount
		}
		plan.WeeklyAmount, _ = decimal.NewFromString(amount)
		plan.DurationWeeks = parseWeeks(weeks)
		break
	}

	if !plan.WeeklyAmount.IsPositive() {
		if amount, ok := extractAmount(text); ok {
			plan.WeeklyAmount = amount
			plan.Patterns = append(plan.Patterns, "amount:individual")
		}
	}
	if plan.DurationWeeks == 0 {
		if weeks := extractDuration(text); weeks > 0 {
			plan.DurationWeeks = weeks
			plan.Patterns = append(plan.Patterns, "duration:individual")
		}
	}

	if start := e.extractStartDate(text); start != nil {
		plan.StartDate = start
		plan.Patterns = append(plan.Patterns, "start_date")
	}

	if plan.IsComplete() {
		if !combined {
			plan.Confidence = entity.PlanConfidenceMedium
			plan.ConfidenceScore = planScoreBothTerms
		}
		if plan.StartDate != nil {
			plan.Confidence = entity.PlanConfidenceHigh
			plan.ConfidenceScore = planScoreWithStart
		}
	}

	if plan.WeeklyAmount.IsPositive() && plan.WeeklyAmount.LessThan(minExtractedAmount) {
		return nil
	}
	if plan.DurationWeeks > maxExtractedWeeks {
		return nil
	}
	if !plan.IsComplete() {
		return nil
	}
	return plan
}

// ExtractFromReply reads the structured plan marker from a generated reply,
// falling back to free-text extraction with a small confidence boost
func (e *PaymentPlanExtractor) ExtractFromReply(text string) *entity.ExtractedPaymentPlan {
	if m := planMarker.FindStringSubmatch(text); m != nil {
		amount, err := decimal.NewFromString(m[1])
		weeks := parseWeeks(m[2])
		if err == nil && weeks > 0 {
			plan := &entity.ExtractedPaymentPlan{
				WeeklyAmount:    amount,
				DurationWeeks:   weeks,
				Confidence:      entity.PlanConfidenceHigh,
				ConfidenceScore: planScoreStructured,
				Patterns:        []string{"ai_structured"},
				RawText:         text,
			}
			if start := e.extractStartDate(text); start != nil {
				plan.StartDate = start
				plan.Patterns = append(plan.Patterns, "ai_start_date")
			}
			return plan
		}
	}

	plan := e.Extract(text)
	if plan == nil {
		return nil
	}
	plan.ConfidenceScore = capConfidence(math.Round((plan.ConfidenceScore+planReplyBoost)*100) / 100)
	if plan.ConfidenceScore >= planHighBand {
		plan.Confidence = entity.PlanConfidenceHigh
	}
	plan.Patterns = append(plan.Patterns, "ai_unstructured")
	return plan
}

// StripPlanMarker removes structured plan lines so they never reach the tenant
func StripPlanMarker(text string) string {
	return strings.TrimSpace(planMarkerLine.ReplaceAllString(text, ""))
}

func (e *PaymentPlanExtractor) extractStartDate(text string) *time.Time {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := startDatePattern.FindStringSubmatch(text); m != nil {
		target := weekdays[strings.ToLower(m[1])]
		ahead := (int(target) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		start := today.AddDate(0, 0, ahead)
		return &start
	}
	if tomorrowPattern.MatchString(text) {
		start := today.AddDate(0, 0, 1)
		return &start
	}
	return nil
}

func extractAmount(text string) (decimal.Decimal, bool) {
	for _, re := range amountPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if amount, err := decimal.NewFromString(m[1]); err == nil {
				return amount, true
			}
		}
	}
	return decimal.Zero, false
}

func extractDuration(text string) int {
	for _, re := range durationPatterns {
		if m := re.FindString(text); m != "" {
			if weeks := parseWeeks(m); weeks > 0 {
				return weeks
			}
		}
	}
	return 0
}

var leadingNumber = regexp.MustCompile(`\d+`)

// parseWeeks reads the number in s, counting months as four weeks
func parseWeeks(s string) int {
	n, err := strconv.Atoi(leadingNumber.FindString(s))
	if err != nil {
		return 0
	}
	if strings.Contains(strings.ToLower(s), "month") {
		return n * 4
	}
	return n
}

func compileInsensitive(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func looksLikeAmount(s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && v >= 10 && v <= 10000
}
