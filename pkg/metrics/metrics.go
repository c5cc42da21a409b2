package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	routes      *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	stepResults *prometheus.CounterVec
	turns       *prometheus.CounterVec
	loopDepth   prometheus.Histogram
	provider    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_routes_total",
				Help: "Routed messages by workflow and decision source.",
			},
			[]string{"workflow", "source"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_calls_total",
				Help: "Domain actions executed by the tool-calling loop.",
			},
			[]string{"tool", "is_error"},
		),
		stepResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_step_results_total",
				Help: "Step results produced by the reservation workflow.",
			},
			[]string{"step", "status"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_turns_total",
				Help: "Processed conversation turns by outcome.",
			},
			[]string{"outcome"},
		),
		loopDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_loop_depth",
				Help:    "Tool rounds used per loop run.",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),
		provider: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_provider_seconds",
				Help:    "Latency of language model calls by purpose.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"purpose"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.routes, m.toolCalls, m.stepResults, m.turns, m.loopDepth, m.provider)
	}
	return m
}

func (m *Metrics) Route(workflow, source string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(workflow, source).Inc()
}

func (m *Metrics) ToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(isError)).Inc()
}

func (m *Metrics) StepResult(step, status string) {
	if m == nil {
		return
	}
	m.stepResults.WithLabelValues(step, status).Inc()
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LoopDepth(depth int) {
	if m == nil {
		return
	}
	m.loopDepth.Observe(float64(depth))
}

func (m *Metrics) ProviderCall(purpose string, started time.Time) {
	if m == nil {
		return
	}
	m.provider.WithLabelValues(purpose).Observe(time.Since(started).Seconds())
}
