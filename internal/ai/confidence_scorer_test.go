package ai

import (
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConfidenceScorer_Score(t *testing.T) {
	scorer := NewConfidenceScorer(nil)

	tests := []struct {
		name     string
		text     string
		tenant   entity.TenantContext
		history  []entity.ConversationMessage
		language string
		want     string
	}{
		{
			name:     "payment reply with professional tone",
			text:     "Thank you. Your payment of $200 is due Friday. Please call if you need help.",
			tenant:   entity.TenantContext{TenantID: "t-1", HasOutstandingBalance: true},
			language: "en",
			want:     "0.805",
		},
		{
			name:     "hostile legal and fraud vocabulary",
			text:     "We will sue you in court, this is a scam",
			tenant:   entity.TenantContext{TenantID: "t-1"},
			language: "en",
			want:     "0.525",
		},
		{
			name:     "spanish reply mentioning the language",
			text:     "Hola, puede hacer el pago de la cuenta en español?",
			tenant:   entity.TenantContext{TenantID: "t-1", LanguagePreference: "es"},
			language: "es",
			want:     "0.725",
		},
		{
			name:     "chinese reply matches script",
			text:     "您好，请尽快付款。",
			tenant:   entity.TenantContext{TenantID: "t-1", LanguagePreference: "zh"},
			language: "zh",
			want:     "0.645",
		},
		{
			name:   "language falls back to tenant preference",
			text:   "Hola, puede hacer el pago de la cuenta en español?",
			tenant: entity.TenantContext{TenantID: "t-1", LanguagePreference: "es"},
			want:   "0.725",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.text, tt.tenant, tt.history, tt.language)
			assert.True(t, got.Equal(dec(tt.want)), "Score() = %s, want %s", got, tt.want)
		})
	}
}

func TestConfidenceScorer_Bounds(t *testing.T) {
	scorer := NewConfidenceScorer(nil)

	inputs := []string{
		"",
		"ok",
		strings.Repeat("lawyer hate fraud ", 200),
		strings.Repeat("please help with payment balance ", 100),
		"您好您好您好您好",
	}

	for _, text := range inputs {
		got := scorer.Score(text, entity.TenantContext{HasOutstandingBalance: true}, nil, "en")
		assert.True(t, got.GreaterThanOrEqual(decimal.Zero), "score %s below 0", got)
		assert.True(t, got.LessThanOrEqual(decimal.NewFromInt(1)), "score %s above 1", got)
	}
}

func TestConfidenceScorer_NeutralOnFailure(t *testing.T) {
	logger := &mockLogger{}
	scorer := NewConfidenceScorer(logger)
	scorer.compute = func(string, entity.TenantContext, []entity.ConversationMessage, string) ScoreBreakdown {
		panic("tokenizer exploded")
	}

	got := scorer.Score("anything", entity.TenantContext{}, nil, "en")

	assert.True(t, got.Equal(dec("0.5")), "expected neutral score, got %s", got)
	require.Len(t, logger.errors, 1)

	_, err := scorer.Breakdown("anything", entity.TenantContext{}, nil, "en")
	assert.ErrorIs(t, err, entity.ErrInternal)
}

func TestConversationContinuity(t *testing.T) {
	t.Run("no history uses default", func(t *testing.T) {
		assert.True(t, conversationContinuity("hello", nil).Equal(dec("0.7")))
	})

	t.Run("overlapping history caps at one", func(t *testing.T) {
		msg := entity.ConversationMessage{Text: "can I pay next week"}
		history := []entity.ConversationMessage{msg, msg, msg, msg}
		assert.True(t, conversationContinuity("Can I pay next week", history).Equal(dec("1")))
	})

	t.Run("only last three messages count", func(t *testing.T) {
		history := []entity.ConversationMessage{
			{Text: "you can pay next week"},
			{Text: "weather is nice"},
			{Text: "completely unrelated words"},
			{Text: "another different sentence"},
		}
		assert.True(t, conversationContinuity("you can pay next week", history).Equal(dec("0.5")))
	})

	t.Run("one overlapping message adds bonus", func(t *testing.T) {
		history := []entity.ConversationMessage{
			{Text: "weather is nice"},
			{Text: "you can pay next week"},
		}
		assert.True(t, conversationContinuity("you can pay next week", history).Equal(dec("0.7")))
	})
}

func TestLanguageAppropriateness(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		language string
		want     string
	}{
		{"english ascii", "Your balance is due", "en", "1"},
		{"english non ascii", "您好您好您好", "en", "0.3"},
		{"empty text counts as english", "", "en", "1"},
		{"unknown language uses ascii rule", "Guten Tag", "de", "1"},
		{"spanish function words", "el pago es hoy", "es", "1"},
		{"spanish without function words", "hola amigo", "es", "0.3"},
		{"french function words", "merci pour votre paiement", "fr", "1"},
		{"french accented preposition", "Payez à temps", "fr", "1"},
		{"french accent inside a word", "voilà merci", "fr", "0.3"},
		{"french words inside longer words", "bonjour lesquels", "fr", "0.3"},
		{"chinese script", "请付款", "zh", "1"},
		{"chinese missing script", "please pay", "zh", "0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := languageAppropriateness(tt.text, tt.language)
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestBusinessCompliance(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short neutral", "See you soon", "0.6"},
		{"short professional", "Thank you for your payment", "0.8"},
		{"legal threat", "Talk to my lawyer", "0.3"},
		{"every prohibited pattern clamps at zero", "lawyer threat fraud", "0"},
		{"long professional", "Please " + strings.Repeat("x", 200), "0.75"},
		{"too long for concatenated sms", strings.Repeat("x", 1700), "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(businessCompliance(tt.text))
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, jaccard(wordSet(""), wordSet("")))
	assert.Equal(t, 1.0, jaccard(wordSet("Pay Now"), wordSet("pay now")))
	assert.InDelta(t, 1.0/3.0, jaccard(wordSet("pay now"), wordSet("pay later")), 0.0001)
}
