package ai

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RoutingDecision is the path an AI reply takes based on its confidence
type RoutingDecision string

const (
	DecisionAutoSend         RoutingDecision = "auto_send"
	DecisionQueueForApproval RoutingDecision = "queue_for_approval"
	DecisionEscalate         RoutingDecision = "escalate"
)

// String returns the string representation of the decision
func (d RoutingDecision) String() string {
	return string(d)
}

// RoutingThresholds defines the decision boundaries for reply routing
type RoutingThresholds struct {
	Auto          decimal.Decimal // above this a reply is sent without review
	Escalate      decimal.Decimal // below this a reply is escalated
	ConfigVersion string
	UpdatedAt     time.Time
}

// DefaultRoutingThresholds returns the default threshold configuration
func DefaultRoutingThresholds() RoutingThresholds {
	return NewRoutingThresholds(0.85, 0.60)
}

// NewRoutingThresholds builds thresholds from configuration floats
func NewRoutingThresholds(auto, escalate float64) RoutingThresholds {
	return RoutingThresholds{
		Auto:          decimal.NewFromFloat(auto),
		Escalate:      decimal.NewFromFloat(escalate),
		ConfigVersion: "v1",
		UpdatedAt:     time.Now(),
	}
}

// Validate ensures threshold values are within [0,1] and Auto > Escalate
func (t RoutingThresholds) Validate() error {
	if t.Auto.LessThan(scoreFloor) || t.Auto.GreaterThan(scoreCeiling) {
		return fmt.Errorf("auto threshold must be between 0.0 and 1.0, got %s", t.Auto)
	}

	if t.Escalate.LessThan(scoreFloor) || t.Escalate.GreaterThan(scoreCeiling) {
		return fmt.Errorf("escalate threshold must be between 0.0 and 1.0, got %s", t.Escalate)
	}

	if !t.Auto.GreaterThan(t.Escalate) {
		return fmt.Errorf("auto threshold must be greater than escalate threshold (auto: %s, escalate: %s)", t.Auto, t.Escalate)
	}

	return nil
}

// RoutingResult records how a score was routed
type RoutingResult struct {
	Score      decimal.Decimal
	Decision   RoutingDecision
	Rationale  string
	Thresholds RoutingThresholds
	Timestamp  time.Time
}

// Router assigns routing decisions from confidence scores
type Router struct {
	thresholds RoutingThresholds
}

// NewRouter creates a router with the given thresholds
func NewRouter(thresholds RoutingThresholds) (*Router, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Router{thresholds: thresholds}, nil
}

// Thresholds returns the configured thresholds
func (r *Router) Thresholds() RoutingThresholds {
	return r.thresholds
}

// Route is a pure function of the score and thresholds:
// score > auto sends, escalate <= score <= auto queues, score < escalate escalates.
func (r *Router) Route(score decimal.Decimal) RoutingDecision {
	switch {
	case score.GreaterThan(r.thresholds.Auto):
		return DecisionAutoSend
	case score.GreaterThanOrEqual(r.thresholds.Escalate):
		return DecisionQueueForApproval
	default:
		return DecisionEscalate
	}
}

// Explain routes the score and records a human-readable rationale
func (r *Router) Explain(score decimal.Decimal) RoutingResult {
	decision := r.Route(score)

	var rationale string
	switch decision {
	case DecisionAutoSend:
		rationale = fmt.Sprintf("confidence %s above auto threshold %s", score.StringFixed(2), r.thresholds.Auto.StringFixed(2))
	case DecisionQueueForApproval:
		rationale = fmt.Sprintf("confidence %s between thresholds (%s-%s)", score.StringFixed(2), r.thresholds.Escalate.StringFixed(2), r.thresholds.Auto.StringFixed(2))
	default:
		rationale = fmt.Sprintf("confidence %s below escalate threshold %s", score.StringFixed(2), r.thresholds.Escalate.StringFixed(2))
	}

	return RoutingResult{
		Score:      score,
		Decision:   decision,
		Rationale:  rationale,
		Thresholds: r.thresholds,
		Timestamp:  time.Now(),
	}
}
