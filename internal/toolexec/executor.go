// Package toolexec dispatches a batch of ToolCalls from one model turn
// through approval, the per-tool CircuitBreaker, and the ToolRegistry,
// bounded by a worker-pool semaphore, preserving positional result
// order.
package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/obra/lace-sub007/internal/approval"
	"github.com/obra/lace-sub007/internal/breaker"
	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/metrics"
	"github.com/obra/lace-sub007/internal/models"
	"github.com/obra/lace-sub007/internal/toolregistry"
)

// Config configures an Executor. MaxConcurrentTools bounds the
// worker-pool width for one batch.
type Config struct {
	MaxConcurrentTools int
}

func (c Config) sanitize() Config {
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = 3
	}
	return c
}

// Registry is the narrow slice of toolregistry.Registry the executor
// calls through, so this package depends on toolregistry's exported
// surface directly (both packages are internal to this module).
type Registry interface {
	CallTool(ctx context.Context, name string, params map[string]any, sessionID string) (any, error)
	ListTools() []string
	GetToolSchema(name string) *toolregistry.Schema
}

// Executor dispatches one batch of ToolCalls through an approval and
// circuit-breaker pipeline layered in front of the registry.
type Executor struct {
	cfg      Config
	registry Registry
	approval approval.Engine
	breakers *breaker.Registry
	log      debuglog.Logger
	metrics  *metrics.Metrics
}

// New creates an Executor. approval and log may be nil (nil approval
// denies everything, fail-closed; nil log becomes a NopLogger). m may
// be nil to disable Prometheus recording entirely.
func New(cfg Config, registry Registry, approvalEngine approval.Engine, breakers *breaker.Registry, log debuglog.Logger, m *metrics.Metrics) *Executor {
	if log == nil {
		log = debuglog.NopLogger{}
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	return &Executor{cfg: cfg.sanitize(), registry: registry, approval: approvalEngine, breakers: breakers, log: log, metrics: m}
}

// ExecuteBatch runs calls with bounded parallelism and returns results
// in input order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, sessionID string) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrentTools)
	var wg sync.WaitGroup

	for i, call := range calls {
		decision, err := e.requestApproval(ctx, call, sessionID)
		if err != nil {
			e.log.Warn(ctx, "approval request failed", "tool", call.Name, "error", err)
		}
		if !decision.Approved {
			results[i] = models.ToolResult{CallID: call.ID, Success: false, Denied: true, Error: decision.Reason}
			e.recordOutcome(call.Name, "denied", 0)
			continue
		}
		if decision.ModifiedCall != nil {
			call = *decision.ModifiedCall
		}

		b := e.breakers.Get(call.Name)
		blocked, recovered := b.Check()
		e.recordBreakerState(call.Name, b)
		if blocked {
			results[i] = models.ToolResult{CallID: call.ID, Success: false, Error: "circuit_open", Recovered: false}
			e.recordOutcome(call.Name, "circuit_open", 0)
			continue
		}

		wg.Add(1)
		go func(idx int, tc models.ToolCall, cb *breaker.Breaker, recovered bool) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.runOne(ctx, tc, sessionID, cb, recovered)
		}(i, call, b, recovered)
	}

	wg.Wait()
	return results
}

func (e *Executor) requestApproval(ctx context.Context, call models.ToolCall, sessionID string) (approval.Decision, error) {
	if e.approval == nil {
		return approval.Decision{Approved: false, Reason: "no approval engine configured"}, nil
	}
	return e.approval.RequestApproval(ctx, call, sessionID)
}

func (e *Executor) runOne(ctx context.Context, call models.ToolCall, sessionID string, b *breaker.Breaker, recoveredProbe bool) models.ToolResult {
	start := time.Now()
	data, err := e.registry.CallTool(ctx, call.Name, call.Input, sessionID)
	duration := time.Since(start)
	e.recordBreakerState(call.Name, b)

	if err != nil {
		b.RecordFailure()
		e.recordOutcome(call.Name, "error", duration)
		e.recordBreakerState(call.Name, b)
		return models.ToolResult{
			CallID:     call.ID,
			Success:    false,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
			Recovered:  recoveredProbe,
		}
	}

	b.RecordSuccess()
	e.recordOutcome(call.Name, "success", duration)
	e.recordBreakerState(call.Name, b)
	return models.ToolResult{
		CallID:     call.ID,
		Success:    true,
		Data:       data,
		DurationMs: duration.Milliseconds(),
		Recovered:  recoveredProbe,
	}
}

// recordOutcome and recordBreakerState are no-ops when no Metrics was
// supplied at construction; metrics wiring is optional.
func (e *Executor) recordOutcome(toolName, outcome string, duration time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	if duration > 0 {
		e.metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	}
	if outcome == "error" {
		e.metrics.CircuitBreakerFailures.WithLabelValues(toolName).Inc()
	}
}

func (e *Executor) recordBreakerState(toolName string, b *breaker.Breaker) {
	if e.metrics == nil {
		return
	}
	e.metrics.CircuitBreakerState.WithLabelValues(toolName).Set(metrics.BreakerStateValue(string(b.State())))
}

// ModelTool is one "tools" array entry the executor shapes for a model
// call.
type ModelTool struct {
	Name        string
	Description string
	InputSchema ModelInputSchema
}

// ModelInputSchema is the JSON-schema-style parameter description a
// model expects, derived from a ToolRegistry method's declared
// parameters.
type ModelInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]ModelParamSpec `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// ModelParamSpec is one property of a ModelInputSchema.
type ModelParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// BuildModelTools converts every registered tool's schema into the
// "tools" array a model expects: one entry per (toolName, methodName)
// pair with combined name, joined description, and a derived
// input_schema.
func BuildModelTools(registry Registry) []ModelTool {
	var tools []ModelTool
	for _, name := range registry.ListTools() {
		schema := registry.GetToolSchema(name)
		if schema == nil {
			continue
		}
		for methodName, method := range schema.Methods {
			properties := make(map[string]ModelParamSpec, len(method.Parameters))
			var required []string
			for paramName, p := range method.Parameters {
				properties[paramName] = ModelParamSpec{Type: p.Type, Description: p.Description}
				if p.Required {
					required = append(required, paramName)
				}
			}
			tools = append(tools, ModelTool{
				Name:        toolregistry.CanonicalName(name, methodName),
				Description: fmt.Sprintf("%s: %s", schema.Description, method.Description),
				InputSchema: ModelInputSchema{Type: "object", Properties: properties, Required: required},
			})
		}
	}
	return tools
}
