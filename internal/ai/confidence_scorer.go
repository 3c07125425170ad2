package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var (
	scoreFloor   = decimal.Zero
	scoreCeiling = decimal.NewFromInt(1)

	// NeutralScore is returned whenever scoring fails
	NeutralScore = decimal.RequireFromString("0.5")

	weightContext    = decimal.RequireFromString("0.40")
	weightContinuity = decimal.RequireFromString("0.25")
	weightLanguage   = decimal.RequireFromString("0.15")
	weightCompliance = decimal.RequireFromString("0.20")

	base            = decimal.RequireFromString("0.5")
	paymentBonus    = decimal.RequireFromString("0.3")
	languageBonus   = decimal.RequireFromString("0.2")
	noHistoryScore  = decimal.RequireFromString("0.7")
	overlapBonus    = decimal.RequireFromString("0.2")
	languageMatch   = decimal.NewFromInt(1)
	languageMiss    = decimal.RequireFromString("0.3")
	violationCost   = decimal.RequireFromString("0.3")
	toneBonus       = decimal.RequireFromString("0.2")
	singleSMSBonus  = decimal.RequireFromString("0.1")
	multiSMSBonus   = decimal.RequireFromString("0.05")
	overlapRequired = 0.3
	asciiRequired   = 0.7
)

const (
	recentMessageWindow = 3
	singleSMSLength     = 160
	maxConcatenatedSMS  = 1600
)

var paymentTerms = []string{"payment", "pay", "balance", "amount", "due", "bill"}

var languageTerms = map[string][]string{
	entity.LanguageSpanish: {"español", "habla español"},
	entity.LanguageFrench:  {"français", "parle français"},
	entity.LanguageChinese: {"中文", "华语"},
}

// \b is ASCII-only in RE2, so French words are delimited by non-letters instead
var languagePatterns = map[string]*regexp.Regexp{
	entity.LanguageSpanish: regexp.MustCompile(`(?i)\b(el|la|los|las|un|una|de|en|que|por|para|con|sin|sobre|entre|hacia|hasta)\b`),
	entity.LanguageFrench:  regexp.MustCompile(`(?i)(?:^|[^\pL])(le|la|les|un|une|de|du|des|à|au|aux|pour|sur|avec|sans|par|dans)(?:[^\pL]|$)`),
	entity.LanguageChinese: regexp.MustCompile(`[\x{4e00}-\x{9fff}]`),
}

var prohibitedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(lawyer|attorney|legal|sue|court|lawsuit)\b`),
	regexp.MustCompile(`(?i)\b(hate|threat|kill|harm|violence)\b`),
	regexp.MustCompile(`(?i)\b(illegal|fraud|scam)\b`),
}

var professionalTerms = []string{"please", "thank", "understand", "help", "assist", "option"}

// ScoreBreakdown holds the four weighted components of a confidence score
type ScoreBreakdown struct {
	ContextRelevance        decimal.Decimal `json:"context_relevance"`
	ConversationContinuity  decimal.Decimal `json:"conversation_continuity"`
	LanguageAppropriateness decimal.Decimal `json:"language_appropriateness"`
	BusinessCompliance      decimal.Decimal `json:"business_compliance"`
	Total                   decimal.Decimal `json:"total"`
}

// ConfidenceScorer estimates whether a generated reply can be sent unmodified
type ConfidenceScorer struct {
	logger  Logger
	compute func(text string, tenant entity.TenantContext, history []entity.ConversationMessage, language string) ScoreBreakdown
}

// NewConfidenceScorer creates a scorer. logger may be nil.
func NewConfidenceScorer(logger Logger) *ConfidenceScorer {
	return &ConfidenceScorer{logger: logger, compute: computeBreakdown}
}

// Score returns a value in [0,1]. It never fails: any internal error yields NeutralScore.
func (s *ConfidenceScorer) Score(text string, tenant entity.TenantContext, history []entity.ConversationMessage, language string) decimal.Decimal {
	breakdown, err := s.Breakdown(text, tenant, history, language)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("Confidence scoring failed, using neutral score",
				"error", err,
				"tenant_id", tenant.TenantID,
				"neutral_score", NeutralScore.String(),
			)
		}
		return NeutralScore
	}
	return breakdown.Total
}

// Breakdown computes each component of the score
func (s *ConfidenceScorer) Breakdown(text string, tenant entity.TenantContext, history []entity.ConversationMessage, language string) (result ScoreBreakdown, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: confidence scoring panic: %v", entity.ErrInternal, r)
		}
	}()

	result = s.compute(text, tenant, history, language)
	return result, nil
}

func computeBreakdown(text string, tenant entity.TenantContext, history []entity.ConversationMessage, language string) (result ScoreBreakdown) {
	if language == "" {
		language = tenant.Language()
	}
	language = strings.ToLower(language)

	result.ContextRelevance = clamp(contextRelevance(text, tenant))
	result.ConversationContinuity = clamp(conversationContinuity(text, history))
	result.LanguageAppropriateness = clamp(languageAppropriateness(text, language))
	result.BusinessCompliance = clamp(businessCompliance(text))

	total := result.ContextRelevance.Mul(weightContext).
		Add(result.ConversationContinuity.Mul(weightContinuity)).
		Add(result.LanguageAppropriateness.Mul(weightLanguage)).
		Add(result.BusinessCompliance.Mul(weightCompliance))

	result.Total = clamp(total).Round(4)
	return result
}

func contextRelevance(text string, tenant entity.TenantContext) decimal.Decimal {
	score := base
	lower := strings.ToLower(text)

	if tenant.HasOutstandingBalance && containsAny(lower, paymentTerms) {
		score = score.Add(paymentBonus)
	}

	if terms, ok := languageTerms[strings.ToLower(tenant.LanguagePreference)]; ok && containsAny(lower, terms) {
		score = score.Add(languageBonus)
	}

	return score
}

func conversationContinuity(text string, history []entity.ConversationMessage) decimal.Decimal {
	if len(history) == 0 {
		return noHistoryScore
	}

	recent := history
	if len(recent) > recentMessageWindow {
		recent = recent[len(recent)-recentMessageWindow:]
	}

	responseWords := wordSet(text)
	score := base
	for _, msg := range recent {
		if jaccard(responseWords, wordSet(msg.Text)) > overlapRequired {
			score = score.Add(overlapBonus)
		}
	}

	return decimal.Min(score, scoreCeiling)
}

func languageAppropriateness(text, language string) decimal.Decimal {
	pattern, ok := languagePatterns[language]
	if !ok {
		// English and unsupported languages are judged by script
		if asciiRatio(text) >= asciiRequired {
			return languageMatch
		}
		return languageMiss
	}

	if pattern.MatchString(text) {
		return languageMatch
	}
	return languageMiss
}

func businessCompliance(text string) decimal.Decimal {
	score := base

	for _, p := range prohibitedPatterns {
		if p.MatchString(text) {
			score = score.Sub(violationCost)
		}
	}

	if containsAny(strings.ToLower(text), professionalTerms) {
		score = score.Add(toneBonus)
	}

	switch n := len([]rune(text)); {
	case n <= singleSMSLength:
		score = score.Add(singleSMSBonus)
	case n <= maxConcatenatedSMS:
		score = score.Add(multiSMSBonus)
	}

	return score
}

func clamp(d decimal.Decimal) decimal.Decimal {
	return decimal.Max(scoreFloor, decimal.Min(d, scoreCeiling))
}

func containsAny(lower string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// asciiRatio counts single-byte characters. Empty text counts as fully ASCII.
func asciiRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 1
	}

	ascii := 0
	for _, r := range runes {
		if r < 128 {
			ascii++
		}
	}
	return float64(ascii) / float64(len(runes))
}
