package ai

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// TriggerReason classifies why a tenant message needs a human
type TriggerReason string

const (
	ReasonAnger           TriggerReason = "customer_anger"
	ReasonLegalRequest    TriggerReason = "legal_request"
	ReasonComplaint       TriggerReason = "formal_complaint"
	ReasonConfusion       TriggerReason = "customer_confusion"
	ReasonDissatisfaction TriggerReason = "general_dissatisfaction"
)

// DefaultEscalationThreshold is the trigger confidence that forces escalation
const DefaultEscalationThreshold = 0.7

// reasonOrder fixes iteration order so results are deterministic
var reasonOrder = []TriggerReason{
	ReasonAnger, ReasonLegalRequest, ReasonComplaint, ReasonConfusion, ReasonDissatisfaction,
}

var triggerPatterns = map[TriggerReason][]*regexp.Regexp{
	ReasonAnger: compileAll(
		`furious|enraged|pissed off|livid|irate`,
		`taking my business elsewhere|going to your competitor|switching companies`,
		`speak to your supervisor|talk to your manager|let me speak to someone higher`,
	),
	ReasonLegalRequest: compileAll(
		`lawyer|attorney|legal action|lawsuit|suing|legal counsel`,
		`CFPB|consumer financial protection bureau|better business bureau|BBB|regulatory complaint`,
		`taking legal action|pursuing legal options|consulting my attorney`,
	),
	ReasonComplaint: compileAll(
		`file a complaint|formal complaint|submit a complaint|register a complaint`,
		`written confirmation|documentation|evidence|proof|record of this`,
		`escalate this matter|formal escalation|official complaint|report this issue`,
	),
	ReasonConfusion: compileAll(
		`i don't understand|confused|unclear|doesn't make sense|this is confusing`,
		`explain this simply|break this down|put this in plain english|can you explain this better`,
		`i have so many questions|this is overwhelming|too much information`,
	),
	ReasonDissatisfaction: compileAll(
		`unacceptable|terrible|awful|horrible|disgusted with this service`,
		`this is ridiculous|outrageous|completely unreasonable|totally unacceptable`,
		`done with this service|finished with your company|leaving for good`,
	),
}

var triggerKeywords = map[TriggerReason][]string{
	ReasonAnger: {
		"angry", "mad", "furious", "enraged", "livid", "irate",
		"supervisor", "manager", "someone higher up", "escalate",
		"taking business elsewhere", "competitor", "switching",
	},
	ReasonLegalRequest: {
		"lawyer", "attorney", "legal", "lawsuit", "suing",
		"cfpb", "consumer protection", "better business bureau", "bbb",
		"regulatory", "formal complaint", "legal action",
	},
	ReasonComplaint: {
		"complaint", "formal", "written", "documentation", "evidence",
		"proof", "record", "escalate", "official", "report", "submit",
	},
	ReasonConfusion: {
		"confused", "unclear", "don't understand", "explain",
		"simple terms", "break it down", "plain english", "overwhelmed",
	},
	ReasonDissatisfaction: {
		"unacceptable", "terrible", "awful", "horrible", "ridiculous",
		"outrageous", "unreasonable", "disgusted", "done", "leaving",
	},
}

var strongKeywords = map[TriggerReason]map[string]bool{
	ReasonLegalRequest: {"lawyer": true, "attorney": true, "lawsuit": true, "suing": true},
	ReasonAnger:        {"furious": true, "enraged": true, "supervisor": true, "manager": true},
	ReasonComplaint:    {"formal complaint": true, "written": true, "documentation": true},
}

var supervisorWords = []string{"supervisor", "manager", "someone higher"}

func compileAll(alternatives ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(alternatives))
	for i, alt := range alternatives {
		out[i] = regexp.MustCompile(`(?i)\b(?:` + alt + `)\b`)
	}
	return out
}

// keywordPatterns match each keyword as whole words
var keywordPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, words := range triggerKeywords {
		for _, w := range words {
			if _, ok := out[w]; !ok {
				out[w] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
			}
		}
	}
	return out
}()

// Trigger is one detected escalation signal
type Trigger struct {
	Reason      TriggerReason `json:"reason"`
	Confidence  float64       `json:"confidence"`
	MatchedText string        `json:"matched_text"`
	PatternType string        `json:"pattern_type"`
}

// EscalationDetector scans tenant messages for anger, legal threats,
// complaints, confusion and dissatisfaction.
type EscalationDetector struct {
	threshold float64
	logger    Logger
}

// NewEscalationDetector creates a detector. A non-positive threshold uses the default; logger may be nil.
func NewEscalationDetector(threshold float64, logger Logger) *EscalationDetector {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return &EscalationDetector{threshold: threshold, logger: logger}
}

// Triggers returns the distinct triggers in text, highest confidence first
func (d *EscalationDetector) Triggers(text string) []Trigger {
	var found []Trigger
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, reason := range reasonOrder {
		for _, re := range triggerPatterns[reason] {
			for _, m := range re.FindAllString(text, -1) {
				found = append(found, Trigger{
					Reason:      reason,
					Confidence:  patternConfidence(m, reason),
					MatchedText: m,
					PatternType: "regex",
				})
			}
		}

		for _, kw := range triggerKeywords[reason] {
			hits := len(keywordPatterns[kw].FindAllStringIndex(lower, -1))
			if hits == 0 {
				continue
			}
			conf := 0.5
			if strongKeywords[reason][kw] {
				conf = 0.75
			}
			if hits > 1 {
				conf += 0.1
			}
			found = append(found, Trigger{
				Reason:      reason,
				Confidence:  capConfidence(conf),
				MatchedText: kw,
				PatternType: "keyword",
			})
		}
	}

	return dedupe(found)
}

// Detect implements port.EscalationDetector
func (d *EscalationDetector) Detect(ctx context.Context, text string) (*entity.EscalationSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	triggers := d.Triggers(text)
	signal := &entity.EscalationSignal{Reasons: []string{}}
	if len(triggers) == 0 {
		return signal, nil
	}

	seen := make(map[TriggerReason]bool)
	legal := false
	for _, t := range triggers {
		if t.Reason == ReasonLegalRequest {
			legal = true
		}
		if t.Confidence >= d.threshold || t.Reason == ReasonLegalRequest {
			signal.ShouldEscalate = true
			if !seen[t.Reason] {
				seen[t.Reason] = true
				signal.Reasons = append(signal.Reasons, string(t.Reason))
			}
			signal.MatchedTerms = append(signal.MatchedTerms, t.MatchedText)
		}
	}
	signal.Confidence = triggers[0].Confidence

	if signal.ShouldEscalate && d.logger != nil {
		d.logger.Info("Escalation triggers detected",
			"reasons", signal.Reasons,
			"confidence", signal.Confidence,
			"legal", legal)
	}
	return signal, nil
}

func patternConfidence(match string, reason TriggerReason) float64 {
	conf := 0.7
	if reason == ReasonLegalRequest {
		conf = 0.85
	}
	if len(match) > 10 {
		conf += 0.1
	}
	if reason == ReasonAnger {
		lower := strings.ToLower(match)
		for _, w := range supervisorWords {
			if strings.Contains(lower, w) {
				conf += 0.1
				break
			}
		}
	}
	return capConfidence(conf)
}

// dedupe keeps the strongest trigger per reason and matched text
func dedupe(triggers []Trigger) []Trigger {
	type key struct {
		reason TriggerReason
		text   string
	}
	index := make(map[key]int)
	var out []Trigger
	for _, t := range triggers {
		k := key{t.Reason, strings.ToLower(t.MatchedText)}
		if i, ok := index[k]; ok {
			if t.Confidence > out[i].Confidence {
				out[i] = t
			}
			continue
		}
		index[k] = len(out)
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func capConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
