package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/metrics"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// Config configures the OpenAI reply generator
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// Generator implements port.ResponseGenerator with the chat completions API.
// Calls are rate limited, then retried around the circuit breaker.
type Generator struct {
	client  *openai.Client
	cfg     Config
	prompts *PromptConfig
	limiter *rate.Limiter
	breaker *reliability.Breaker
	retry   reliability.RetryPolicy
	logger  *zap.Logger
}

// NewGenerator creates a generator. A nil prompts config uses DefaultPrompts.
func NewGenerator(cfg Config, prompts *PromptConfig, breaker *reliability.Breaker, retry reliability.RetryPolicy, logger *zap.Logger) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = prompts.SMSReply.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = prompts.SMSReply.MaxTokens
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
		burst = cfg.RequestsPerMinute / 60
		if burst < 1 {
			burst = 1
		}
	}

	return &Generator{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		prompts: prompts,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		retry:   retry,
		logger:  logger,
	}
}

// Generate implements port.ResponseGenerator
func (g *Generator) Generate(ctx context.Context, req port.GenerationRequest) (*port.GeneratedResponse, error) {
	language := req.Language
	if language == "" {
		language = req.Tenant.Language()
	}

	messages, err := g.buildMessages(req, language)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Messages:    messages,
	}

	var resp openai.ChatCompletionResponse
	err = g.retry.Do(ctx, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			r, err := g.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return classifyError(err)
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		metrics.RecordLLMCall(g.cfg.Model, "error", 0, 0)
		g.logger.Error("OpenAI API call failed",
			zap.String("tenant_id", req.Tenant.TenantID),
			zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.RecordLLMCall(g.cfg.Model, "empty", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return nil, fmt.Errorf("no response from OpenAI")
	}

	text := formatSMS(resp.Choices[0].Message.Content, g.prompts.SMSReply.MaxChars)
	if text == "" {
		metrics.RecordLLMCall(g.cfg.Model, "empty", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	metrics.RecordLLMCall(g.cfg.Model, "success", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	g.logger.Info("Reply generated",
		zap.String("tenant_id", req.Tenant.TenantID),
		zap.String("language", language),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	model := resp.Model
	if model == "" {
		model = g.cfg.Model
	}
	return &port.GeneratedResponse{
		Text:             text,
		Language:         language,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

type promptData struct {
	Tenant       entity.TenantContext
	LanguageName string
	MaxChars     int
	Transcript   string
}

// buildMessages renders the system prompt and replays recent history
// as user/assistant turns, ending with the tenant's new message.
func (g *Generator) buildMessages(req port.GenerationRequest, language string) ([]openai.ChatCompletionMessage, error) {
	history := req.History
	if turns := g.prompts.SMSReply.HistoryTurns; turns > 0 && len(history) > turns {
		history = history[len(history)-turns:]
	}

	system, err := renderTemplate(g.prompts.SMSReply.System, promptData{
		Tenant:       req.Tenant,
		LanguageName: languageName(language),
		MaxChars:     g.prompts.SMSReply.MaxChars,
		Transcript:   transcript(history),
	})
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := openai.ChatMessageRoleAssistant
		if m.Direction == "inbound" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.TenantMessage})
	return messages, nil
}

func transcript(history []entity.ConversationMessage) string {
	if len(history) == 0 {
		return "No previous messages"
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		arrow := "←"
		if m.Direction == "inbound" {
			arrow = "→"
		}
		lines = append(lines, arrow+" "+m.Text)
	}
	return strings.Join(lines, "\n")
}

func languageName(code string) string {
	switch code {
	case entity.LanguageSpanish:
		return "Spanish"
	case entity.LanguageFrench:
		return "French"
	case entity.LanguageChinese:
		return "Chinese"
	case entity.LanguageEnglish, "":
		return "English"
	default:
		return code
	}
}

// formatSMS collapses whitespace and cuts the reply to maxChars runes,
// breaking on a word boundary when one is close enough.
func formatSMS(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:maxChars-3])
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

// classifyError maps API failures onto the retry and outage taxonomy
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", reliability.ErrRateLimited, apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return entity.NewServiceUnavailableError("openai", fmt.Sprintf("server error: %d", apiErr.HTTPStatusCode), err)
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", reliability.ErrRateLimited, reqErr.Err)
		case reqErr.HTTPStatusCode >= 500:
			return entity.NewServiceUnavailableError("openai", fmt.Sprintf("server error: %d", reqErr.HTTPStatusCode), err)
		}
	}
	return err
}

// Verify interface compliance
var _ port.ResponseGenerator = (*Generator)(nil)
