package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the reply prompt and its model parameters
type PromptConfig struct {
	SMSReply struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		MaxChars     int     `yaml:"max_chars"`
		HistoryTurns int     `yaml:"history_turns"`
		System       string  `yaml:"system"`
	} `yaml:"sms_reply"`
}

const defaultSystemPrompt = `You are a professional collections assistant for a property management company.

TENANT CONTEXT:
- Tenant ID: {{.Tenant.TenantID}}
{{- if .Tenant.HasOutstandingBalance}}
- Outstanding balance: ${{printf "%.2f" .Tenant.OutstandingBalance}}
{{- end}}
{{- if .Tenant.PaymentHistory}}
- Payment history: {{.Tenant.PaymentHistory}}
{{- end}}
- Language: {{.LanguageName}}

RESPONSE REQUIREMENTS:
1. Be professional but empathetic
2. Respond in {{.LanguageName}}
3. Focus on payment plan negotiation
4. Keep responses under {{.MaxChars}} characters (SMS limit)
5. Include specific amounts and timeframes when you know them

If the tenant proposes a payment plan, end with one extra line the tenant will not see:
PAYMENT_PLAN: weekly=<amount>, weeks=<duration>

Recent conversation:
{{.Transcript}}`

// DefaultPrompts returns the built-in prompt used when no prompts file is configured
func DefaultPrompts() *PromptConfig {
	var p PromptConfig
	p.SMSReply.Temperature = 0.7
	p.SMSReply.MaxTokens = 200
	p.SMSReply.MaxChars = 160
	p.SMSReply.HistoryTurns = 10
	p.SMSReply.System = defaultSystemPrompt
	return &p
}

// LoadPrompts loads prompt configuration from a YAML file.
// Fields missing from the file keep their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

// ParsePrompts parses YAML prompt configuration over the defaults
func ParsePrompts(data []byte) (*PromptConfig, error) {
	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	if _, err := template.New("system").Parse(prompts.SMSReply.System); err != nil {
		return nil, fmt.Errorf("invalid sms_reply.system template: %w", err)
	}
	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
