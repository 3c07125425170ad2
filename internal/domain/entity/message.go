package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// InboundMessage is an SMS received from a tenant
type InboundMessage struct {
	TenantID       string `json:"tenant_id" validate:"required"`
	PhoneNumber    string `json:"phone_number" validate:"required,phone"`
	Content        string `json:"content" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required,conversation_id"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// TenantContext is what the collections monitor knows about a tenant
type TenantContext struct {
	TenantID                string  `json:"tenant_id"`
	HasOutstandingBalance   bool    `json:"has_outstanding_balance"`
	OutstandingBalance      float64 `json:"outstanding_balance"`
	LanguagePreference      string  `json:"language_preference"`
	PaymentHistory          string  `json:"payment_history,omitempty"`
	CommunicationPreference string  `json:"communication_preference,omitempty"`
	MissedPayments          int     `json:"missed_payments,omitempty"`
	ExistingPaymentPlans    int     `json:"existing_payment_plans,omitempty"`
}

// Language returns the tenant's preferred language, defaulting to English
func (t TenantContext) Language() string {
	if t.LanguagePreference == "" {
		return LanguageEnglish
	}
	return t.LanguagePreference
}

// ConversationMessage is one message of conversation history
type ConversationMessage struct {
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoredResponse is a generated reply with its confidence score attached.
// It cannot be changed after construction.
type ScoredResponse struct {
	text       string
	confidence decimal.Decimal
	language   string
	tokens     int
	metadata   map[string]interface{}
}

// NewScoredResponse builds a ScoredResponse, copying the metadata
func NewScoredResponse(text string, confidence decimal.Decimal, language string, tokens int, metadata map[string]interface{}) *ScoredResponse {
	md := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &ScoredResponse{
		text:       text,
		confidence: confidence,
		language:   language,
		tokens:     tokens,
		metadata:   md,
	}
}

func (r *ScoredResponse) Text() string                { return r.text }
func (r *ScoredResponse) Confidence() decimal.Decimal { return r.confidence }
func (r *ScoredResponse) Language() string            { return r.language }
func (r *ScoredResponse) TokenCount() int             { return r.tokens }

// Metadata returns a copy of the metadata map
func (r *ScoredResponse) Metadata() map[string]interface{} {
	md := make(map[string]interface{}, len(r.metadata))
	for k, v := range r.metadata {
		md[k] = v
	}
	return md
}

// MarshalJSON implements json.Marshaler
func (r *ScoredResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text       string                 `json:"response_text"`
		Confidence decimal.Decimal        `json:"confidence_score"`
		Language   string                 `json:"language"`
		Tokens     int                    `json:"token_count"`
		Metadata   map[string]interface{} `json:"metadata"`
	}{r.text, r.confidence, r.language, r.tokens, r.metadata})
}
