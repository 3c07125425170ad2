package ai

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// fixedClock is a Wednesday
var fixedClock = func() time.Time { return time.Date(2024, 5, 15, 14, 30, 0, 0, time.UTC) }

func TestPaymentPlanExtractor_Extract(t *testing.T) {
	e := NewPaymentPlanExtractor(fixedClock)

	tests := []struct {
		name       string
		text       string
		amount     string
		weeks      int
		confidence entity.PlanConfidence
		score      float64
		hasStart   bool
	}{
		{"dollar sign combined", "I can pay $200 per week for 8 weeks", "200", 8, entity.PlanConfidenceHigh, 0.8, false},
		{"weeks before amount", "How about 6 weeks at $75 a week?", "75", 6, entity.PlanConfidenceHigh, 0.8, false},
		{"dollar word combined", "I could do 75 dollars weekly for 5 weeks", "75", 5, entity.PlanConfidenceMedium, 0.6, false},
		{"separate terms", "I can send $50 every week. Maybe 10 weeks total", "50", 10, entity.PlanConfidenceMedium, 0.7, false},
		{"months become weeks", "$60/week over the next 2 months", "60", 8, entity.PlanConfidenceMedium, 0.7, false},
		{"start date raises confidence", "$100 a week for 4 weeks starting Friday", "100", 4, entity.PlanConfidenceHigh, 0.9, true},
		{"cents kept", "I can pay $37.50 per week for 6 weeks", "37.5", 6, entity.PlanConfidenceHigh, 0.8, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := e.Extract(tt.text)
			require.NotNil(t, plan)
			assert.True(t, plan.WeeklyAmount.Equal(decimal.RequireFromString(tt.amount)), "amount %s", plan.WeeklyAmount)
			assert.Equal(t, tt.weeks, plan.DurationWeeks)
			assert.Equal(t, tt.confidence, plan.Confidence)
			assert.InDelta(t, tt.score, plan.ConfidenceScore, 1e-9)
			assert.Equal(t, tt.hasStart, plan.StartDate != nil)
			assert.Equal(t, tt.text, plan.RawText)
		})
	}
}

func TestPaymentPlanExtractor_RejectsNonPlans(t *testing.T) {
	e := NewPaymentPlanExtractor(fixedClock)

	tests := []struct {
		name string
		text string
	}{
		{"no numbers", "I will pay soon, promise"},
		{"amount only", "I can pay $100 per week"},
		{"duration only", "Give me 6 weeks please"},
		{"below minimum amount", "I can pay $20 per week for 6 weeks"},
		{"too long", "I can pay $50 per week for 20 weeks"},
		{"weekly is not a duration", "I can do $50 weekly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, e.Extract(tt.text))
		})
	}
}

func TestPaymentPlanExtractor_StartDates(t *testing.T) {
	e := NewPaymentPlanExtractor(fixedClock)

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{"later this week", "$80 a week for 4 weeks starting Friday", time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)},
		{"same weekday rolls a week", "$80 a week for 4 weeks next Wednesday", time.Date(2024, 5, 22, 0, 0, 0, 0, time.UTC)},
		{"earlier weekday wraps", "$80 a week for 4 weeks on monday", time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
		{"tomorrow", "$80 a week for 4 weeks, first one tomorrow", time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := e.Extract(tt.text)
			require.NotNil(t, plan)
			require.NotNil(t, plan.StartDate)
			assert.True(t, tt.want.Equal(*plan.StartDate), "got %s", plan.StartDate)
		})
	}
}

func TestPaymentPlanExtractor_ExtractFromReply(t *testing.T) {
	e := NewPaymentPlanExtractor(fixedClock)

	t.Run("structured marker", func(t *testing.T) {
		reply := "We can set that up for you starting Monday.\nPAYMENT_PLAN: weekly=125.00, weeks=6"
		plan := e.ExtractFromReply(reply)
		require.NotNil(t, plan)
		assert.True(t, plan.WeeklyAmount.Equal(decimal.NewFromInt(125)))
		assert.Equal(t, 6, plan.DurationWeeks)
		assert.Equal(t, entity.PlanConfidenceHigh, plan.Confidence)
		assert.InDelta(t, 0.95, plan.ConfidenceScore, 1e-9)
		assert.Equal(t, []string{"ai_structured", "ai_start_date"}, plan.Patterns)
	})

	t.Run("free text gets boosted", func(t *testing.T) {
		plan := e.ExtractFromReply("Sure, paying $50 every week. That would take 10 weeks.")
		require.NotNil(t, plan)
		assert.InDelta(t, 0.8, plan.ConfidenceScore, 1e-9)
		assert.Equal(t, entity.PlanConfidenceHigh, plan.Confidence)
		assert.Contains(t, plan.Patterns, "ai_unstructured")
	})

	t.Run("no plan", func(t *testing.T) {
		assert.Nil(t, e.ExtractFromReply("Thanks for reaching out, we will follow up."))
	})
}

func TestStripPlanMarker(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing marker", "We can do that.\nPAYMENT_PLAN: weekly=50, weeks=4", "We can do that."},
		{"marker in the middle", "Line one\n  payment_plan: weekly=50, weeks=4\nLine two", "Line one\nLine two"},
		{"no marker", "Just a reply", "Just a reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripPlanMarker(tt.in))
		})
	}
}
