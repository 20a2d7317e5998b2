// Package observability carries the process-wide metrics, logging, and
// tracing plumbing. Metrics never influence control flow; they exist so the
// loop, dispatcher, and providers can be watched from the outside.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the runtime.
type Metrics struct {
	// ToolDispatches counts dispatches by tool and outcome.
	// Labels: tool, status (success|error|vetoed)
	ToolDispatches *prometheus.CounterVec

	// ToolDispatchDuration measures dispatch latency in seconds.
	// Labels: tool
	ToolDispatchDuration *prometheus.HistogramVec

	// LLMRequests counts provider turns.
	// Labels: provider, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMTokens tracks token consumption.
	// Labels: provider, direction (input|output|cache_read)
	LLMTokens *prometheus.CounterVec

	// StreamRetries counts recoverable stream failures that were retried.
	StreamRetries prometheus.Counter

	// Conversations counts finished conversations by terminal reason.
	// Labels: reason
	Conversations *prometheus.CounterVec

	// SignalsPosted counts background signals entering the mailbox.
	SignalsPosted prometheus.Counter

	// PrunedMessages counts messages dropped by history pruning.
	PrunedMessages prometheus.Counter
}

// NewMetrics registers the runtime instruments with reg. Call once per
// registry; the agent wires prometheus.DefaultRegisterer, tests pass a
// fresh one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolDispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adze_tool_dispatches_total",
				Help: "Tool dispatches by tool name and outcome.",
			},
			[]string{"tool", "status"},
		),
		ToolDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adze_tool_dispatch_duration_seconds",
				Help:    "Tool dispatch latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adze_llm_requests_total",
				Help: "LLM streaming turns by provider and status.",
			},
			[]string{"provider", "status"},
		),
		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adze_llm_tokens_total",
				Help: "Token consumption by provider and direction.",
			},
			[]string{"provider", "direction"},
		),
		StreamRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "adze_stream_retries_total",
				Help: "Recoverable stream failures that triggered a retry.",
			},
		),
		Conversations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adze_conversations_total",
				Help: "Finished conversations by terminal reason.",
			},
			[]string{"reason"},
		),
		SignalsPosted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "adze_signals_posted_total",
				Help: "Background signals posted to the mailbox.",
			},
		),
		PrunedMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "adze_pruned_messages_total",
				Help: "Messages dropped by history pruning.",
			},
		),
	}
}

// RecordToolDispatch records one dispatch outcome.
func (m *Metrics) RecordToolDispatch(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolDispatches.WithLabelValues(tool, status).Inc()
	m.ToolDispatchDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records one streaming turn and its token usage.
func (m *Metrics) RecordLLMRequest(provider, status string, inputTokens, outputTokens, cacheReadTokens int) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, status).Inc()
	if inputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
	if cacheReadTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, "cache_read").Add(float64(cacheReadTokens))
	}
}

// RecordRetry records one stream retry.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.StreamRetries.Inc()
}

// RecordConversationEnd records a conversation's terminal reason.
func (m *Metrics) RecordConversationEnd(reason string) {
	if m == nil {
		return
	}
	m.Conversations.WithLabelValues(reason).Inc()
}

// RecordSignal records one mailbox post.
func (m *Metrics) RecordSignal() {
	if m == nil {
		return
	}
	m.SignalsPosted.Inc()
}

// RecordPruned records messages dropped by one pruning pass.
func (m *Metrics) RecordPruned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.PrunedMessages.Add(float64(count))
}
