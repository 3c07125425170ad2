package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sms_orchestrator"

var (
	// HTTP
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Routing
	routingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Replies routed by confidence band",
		},
		[]string{"decision"},
	)

	confidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Distribution of reply confidence scores",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 1},
		},
	)

	// Approval queue
	approvalActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_actions_total",
			Help:      "Actions applied to approval queue entries",
		},
		[]string{"action", "result"},
	)

	approvalPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approval_pending_entries",
			Help:      "Pending approval entries seen by the last listing",
		},
	)

	// Circuit breakers
	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit state per service (0 closed, 1 half_open, 2 open)",
		},
		[]string{"service"},
	)

	circuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit state transitions per service",
		},
		[]string{"service", "to"},
	)

	// Timeouts
	timeoutEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeout_events_total",
			Help:      "Response timeout warnings and escalations",
		},
		[]string{"kind"},
	)

	// Outbound
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Manager notifications by type and outcome",
		},
		[]string{"type", "status"},
	)

	smsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sms_sent_total",
			Help:      "Outbound SMS deliveries by outcome",
		},
		[]string{"status"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Reply generation calls",
		},
		[]string{"model", "status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by reply generation",
		},
		[]string{"model", "type"},
	)

	paymentPlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_plans_total",
			Help:      "Detected payment plans by source and validation status",
		},
		[]string{"source", "status"},
	)

	// Background work
	intakeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intake_queue_depth",
			Help:      "Inbound messages waiting for a worker",
		},
	)

	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Scheduled sweep executions",
		},
		[]string{"job", "status"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Scheduled sweep duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"job"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	statusClass := "unknown"
	switch {
	case status >= 500:
		statusClass = "5xx"
	case status >= 400:
		statusClass = "4xx"
	case status >= 300:
		statusClass = "3xx"
	case status >= 200:
		statusClass = "2xx"
	}

	httpRequestsTotal.WithLabelValues(method, route, statusClass).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRouting records a routing decision and the score that produced it
func RecordRouting(decision string, score float64) {
	routingDecisionsTotal.WithLabelValues(decision).Inc()
	confidenceScore.Observe(score)
}

// RecordApprovalAction records the outcome of a manager or system action
func RecordApprovalAction(action, result string) {
	approvalActionsTotal.WithLabelValues(action, result).Inc()
}

// SetPendingApprovals records the size of the pending queue
func SetPendingApprovals(n int) {
	approvalPending.Set(float64(n))
}

// RecordCircuitTransition records a breaker state change
func RecordCircuitTransition(service, to string) {
	circuitTransitionsTotal.WithLabelValues(service, to).Inc()

	value := 0.0
	switch to {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	circuitState.WithLabelValues(service).Set(value)
}

// RecordTimeoutEvent records a timeout warning or escalation
func RecordTimeoutEvent(kind string) {
	timeoutEventsTotal.WithLabelValues(kind).Inc()
}

// RecordNotification records a notification attempt
func RecordNotification(notificationType, status string) {
	notificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// RecordSMS records an outbound SMS attempt
func RecordSMS(status string) {
	smsSentTotal.WithLabelValues(status).Inc()
}

// RecordPaymentPlan records a detected payment plan
func RecordPaymentPlan(source, status string) {
	paymentPlansTotal.WithLabelValues(source, status).Inc()
}

// RecordLLMCall records a generation call and its token usage
func RecordLLMCall(model, status string, promptTokens, completionTokens int) {
	llmCallsTotal.WithLabelValues(model, status).Inc()
	llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// SetIntakeQueueDepth records how many inbound messages are buffered
func SetIntakeQueueDepth(n int) {
	intakeQueueDepth.Set(float64(n))
}

// RecordSweep records a scheduled job run
func RecordSweep(job, status string, duration time.Duration) {
	sweepRunsTotal.WithLabelValues(job, status).Inc()
	sweepDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
