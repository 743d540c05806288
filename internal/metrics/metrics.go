// Package metrics exposes the engine's Prometheus surface:
// tool-executor counters, circuit-breaker state gauges, and
// per-agent context-budget ratios. The Orchestrator passes a Metrics
// value to its agents and executors; serving the registry over HTTP
// is left to the caller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's Prometheus collector set. Callers own the
// *prometheus.Registry (construction-time, via New) rather than
// binding to the global default registerer, so an Orchestrator can be
// constructed more than once per process (e.g. in tests) without a
// duplicate metric panic.
type Metrics struct {
	// ToolExecutions counts tool-executor dispatches by tool name and
	// outcome (success|error|denied|circuit_open).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool call latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRetries counts retry attempts by RetryPolicy category.
	ToolRetries *prometheus.CounterVec

	// CircuitBreakerState is a 0/1/2 gauge (closed/open/half-open) per
	// tool name, set by the ToolExecutor from the tool's breaker state.
	CircuitBreakerState *prometheus.GaugeVec

	// CircuitBreakerFailures counts recorded breaker failures per tool.
	CircuitBreakerFailures *prometheus.CounterVec

	// AgentContextRatio reports the last-measured contextSize /
	// maxContextSize ratio per agent generation, the same quantity
	// Agent.checkContextBudget compares against handoffThreshold.
	AgentContextRatio *prometheus.GaugeVec

	// AgentHandoffs counts handoff triggers per role.
	AgentHandoffs *prometheus.CounterVec

	// ModelRequestDuration measures ModelSession.Chat latency in
	// seconds, labeled by provider and model.
	ModelRequestDuration *prometheus.HistogramVec

	// ModelCost accumulates calculateCost's totalCost per provider/model.
	ModelCost *prometheus.CounterVec
}

// New creates a Metrics collector set and registers every metric on
// reg. reg must not be nil; pass prometheus.NewRegistry() for an
// isolated set (tests, multiple Orchestrators) or
// prometheus.DefaultRegisterer to expose on the process-wide
// /metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentengine_tool_executions_total",
				Help: "Total tool executor dispatches by tool name and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentengine_tool_execution_duration_seconds",
				Help:    "Tool call latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ToolRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentengine_retries_total",
				Help: "Total retry attempts by RetryPolicy category.",
			},
			[]string{"category"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentengine_circuit_breaker_state",
				Help: "Circuit breaker state per tool: 0=closed, 1=open, 2=half-open.",
			},
			[]string{"tool"},
		),
		CircuitBreakerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentengine_circuit_breaker_failures_total",
				Help: "Total recorded circuit breaker failures per tool.",
			},
			[]string{"tool"},
		),
		AgentContextRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentengine_agent_context_ratio",
				Help: "Last-measured contextSize/maxContextSize ratio per agent generation.",
			},
			[]string{"role", "generation"},
		),
		AgentHandoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentengine_agent_handoffs_total",
				Help: "Total context-budget handoff triggers by role.",
			},
			[]string{"role"},
		),
		ModelRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentengine_model_request_duration_seconds",
				Help:    "ModelSession.Chat latency in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ModelCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentengine_model_cost_total",
				Help: "Accumulated calculateCost totalCost per provider/model.",
			},
			[]string{"provider", "model"},
		),
	}

	reg.MustRegister(
		m.ToolExecutions,
		m.ToolExecutionDuration,
		m.ToolRetries,
		m.CircuitBreakerState,
		m.CircuitBreakerFailures,
		m.AgentContextRatio,
		m.AgentHandoffs,
		m.ModelRequestDuration,
		m.ModelCost,
	)

	return m
}

// BreakerStateValue maps a breaker state name to the gauge value
// CircuitBreakerState expects.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
