// Package agent implements the Agent runtime entity: the model<->tool
// loop, context-budget handoff, task analysis, cost/usage accounting,
// and subagent spawning.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obra/lace-sub007/internal/agentroles"
	"github.com/obra/lace-sub007/internal/activitylog"
	"github.com/obra/lace-sub007/internal/approval"
	"github.com/obra/lace-sub007/internal/breaker"
	"github.com/obra/lace-sub007/internal/convstore"
	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/engineerr"
	"github.com/obra/lace-sub007/internal/metrics"
	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/models"
	"github.com/obra/lace-sub007/internal/retrypolicy"
	"github.com/obra/lace-sub007/internal/toolexec"
)

// defaultHistoryLimit is the default number of transcript messages
// loaded per iteration.
const defaultHistoryLimit = 50

// defaultMaxIterations bounds the model<->tool loop's safety runway,
// chosen generously since delegate-driven workloads run longer per turn.
const defaultMaxIterations = 25

// Deps are the collaborators an Agent is constructed with; every field
// is shared (not copied) across a parent and its subagents, except
// conversation metrics and the per-tool CircuitBreaker map, which are
// per-Agent.
type Deps struct {
	ToolRegistry toolexec.Registry
	ConvStore    convstore.Store
	ActivityLog  activitylog.Log
	DebugLog     debuglog.Logger
	Approval     approval.Engine
	Roles        *agentroles.Registry

	// Metrics is optional; nil disables Prometheus recording.
	Metrics *metrics.Metrics
}

// Options configures a new Agent.
type Options struct {
	ID           string
	SessionID    string
	Generation   models.Generation
	Role         string
	Model        modelsession.Session
	Task         string
	Capabilities []string

	// HistoryLimit defaults to 50, MaxIterations to 25, MaxConcurrentTools
	// to the role's default when unset.
	HistoryLimit       int
	MaxIterations      int
	MaxConcurrentTools int
	RetryConfig        retrypolicy.Config
}

// ConversationMetrics accumulates per-Agent usage counters: total
// messages, total tokens used, and total cache hits/creations.
type ConversationMetrics struct {
	TotalMessages       int
	TotalTokensUsed      int
	TotalCacheHits       int
	TotalCacheCreations  int
}

// CacheHitRate formats totalCacheHits / (totalCacheHits +
// totalCacheCreations) * 100 to one decimal, "0.0%" when both are zero.
func (m ConversationMetrics) CacheHitRate() string {
	denom := m.TotalCacheHits + m.TotalCacheCreations
	if denom == 0 {
		return "0.0%"
	}
	rate := float64(m.TotalCacheHits) / float64(denom) * 100
	return fmt.Sprintf("%.1f%%", rate)
}

// Cost is calculateCost's return shape.
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// Agent is a runtime entity running its own model<->tool loop.
type Agent struct {
	deps Deps

	id           string
	sessionID    string
	generation   models.Generation
	role         string
	roleDef      agentroles.RoleDefinition
	model        modelsession.Session
	capabilities []string
	task         string

	maxContextSize   int
	handoffThreshold float64
	historyLimit     int
	maxIterations    int
	retryConfig      retrypolicy.Config

	executor *toolexec.Executor
	breakers *breaker.Registry

	mu              sync.Mutex
	contextSize     int
	subagentCounter int
	metrics         ConversationMetrics
}

// New constructs an Agent. Role-derived defaults (maxConcurrentTools,
// contextPreferences, capabilities, systemPrompt) are looked up from
// deps.Roles and overridden by any non-zero Options fields.
func New(deps Deps, opts Options) (*Agent, error) {
	if deps.Roles == nil {
		return nil, fmt.Errorf("agent: Roles registry is required")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("agent: Model is required")
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("agent: SessionID is required")
	}

	roleDef := deps.Roles.MustGet(opts.Role)
	role := opts.Role
	if role == "" {
		role = roleDef.Name
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	generation := opts.Generation
	if generation == nil {
		generation = models.Root()
	}

	capabilities := opts.Capabilities
	if capabilities == nil {
		capabilities = roleDef.Capabilities
	}

	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	maxConcurrentTools := opts.MaxConcurrentTools
	if maxConcurrentTools <= 0 {
		maxConcurrentTools = roleDef.MaxConcurrentTools
	}
	maxContextSize := roleDef.ContextPreferences.MaxContextSize
	if def := opts.Model.Definition(); def.ContextWindow > 0 {
		maxContextSize = def.ContextWindow
	}
	handoffThreshold := roleDef.ContextPreferences.HandoffThreshold
	if handoffThreshold <= 0 {
		handoffThreshold = 0.8
	}

	retryConfig := opts.RetryConfig
	if (retryConfig == retrypolicy.Config{}) {
		retryConfig = retrypolicy.DefaultConfig()
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	executor := toolexec.New(
		toolexec.Config{MaxConcurrentTools: maxConcurrentTools},
		deps.ToolRegistry,
		deps.Approval,
		breakers,
		deps.DebugLog,
		deps.Metrics,
	)

	return &Agent{
		deps:             deps,
		id:               id,
		sessionID:        opts.SessionID,
		generation:       generation,
		role:             role,
		roleDef:          roleDef,
		model:            opts.Model,
		capabilities:     capabilities,
		task:             opts.Task,
		maxContextSize:   maxContextSize,
		handoffThreshold: handoffThreshold,
		historyLimit:     historyLimit,
		maxIterations:    maxIterations,
		retryConfig:      retryConfig,
		executor:         executor,
		breakers:         breakers,
	}, nil
}

// ID, SessionID, Generation, Role, and Metrics expose the Agent's
// read-only identity and accumulated usage for callers (the
// Orchestrator, tests, and delegate tooling).
func (a *Agent) ID() string                        { return a.id }
func (a *Agent) SessionID() string                 { return a.sessionID }
func (a *Agent) Generation() models.Generation      { return a.generation }
func (a *Agent) Role() string                      { return a.role }
func (a *Agent) Metrics() ConversationMetrics        { a.mu.Lock(); defer a.mu.Unlock(); return a.metrics }

// ChooseAgentForTask delegates to the AgentRegistry's keyword heuristic.
func (a *Agent) ChooseAgentForTask(taskText string) agentroles.TaskSelection {
	return a.deps.Roles.ChooseAgentForTask(taskText)
}

// Result is ProcessInput's return shape, plus Cancelled when the
// context was cancelled mid-turn.
type Result struct {
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
	Usage       models.Usage
	DurationMs  int64
	Cancelled   bool
}

// ProcessInput runs the model<->tool loop for one user turn.
func (a *Agent) ProcessInput(ctx context.Context, userContent string) (Result, error) {
	start := time.Now()

	if err := a.persistUserMessage(ctx, userContent); err != nil {
		return Result{}, fmt.Errorf("agent: persist user message: %w", err)
	}

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return a.cancelledResult(ctx, start), nil
		default:
		}

		history, err := a.deps.ConvStore.GetConversationHistory(ctx, a.sessionID, a.historyLimit)
		if err != nil {
			return Result{}, fmt.Errorf("agent: load history: %w", err)
		}
		// After a handoff, the summary message starts the prompt and the
		// transcript before it is left out.
		handoffID := fmt.Sprintf("handoff-%s", a.generation.String())
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ID == handoffID {
				history = history[i:]
				break
			}
		}

		systemPrompt := a.buildSystemPrompt(ctx)
		tools := toolexec.BuildModelTools(a.deps.ToolRegistry)

		if overflowed, err := a.checkContextBudget(ctx, history, systemPrompt, tools); err != nil {
			return Result{}, err
		} else if overflowed {
			if err := a.triggerHandoff(ctx, history); err != nil {
				return Result{}, engineerr.ContextOverflowError(fmt.Sprintf("handoff failed: %v", err))
			}
			a.recordHandoff()
			continue // retry this iteration with the compressed history
		}

		a.emitEvent(ctx, models.EventModelRequest, models.ModelRequestPayload{
			Provider:  a.model.Definition().Provider,
			Model:     a.model.Definition().Name,
			Timestamp: time.Now(),
		})

		chatStart := time.Now()
		chatResult, err := a.chat(ctx, history, systemPrompt, tools)
		chatDuration := time.Since(chatStart)
		a.recordModelDuration(chatDuration)
		if err != nil {
			if engineerr.Classify(err) == engineerr.CategoryNonRetriable {
				return Result{}, engineerr.NonRetriableProviderError(err)
			}
			return Result{}, engineerr.RetriableProviderError(err)
		}
		if !chatResult.Success {
			return Result{}, &engineerr.EngineError{Kind: engineerr.KindRetriableProvider, Message: chatResult.Error}
		}

		a.recordUsage(chatResult.Usage)
		cost := a.calculateCost(chatResult.Usage)
		a.recordCost(cost)
		a.emitEvent(ctx, models.EventModelResponse, models.ModelResponsePayload{
			Content:    chatResult.Content,
			TokensIn:   usageOrZero(chatResult.Usage).InputTokens,
			TokensOut:  usageOrZero(chatResult.Usage).OutputTokens,
			Cost:       cost.TotalCost,
			DurationMs: chatDuration.Milliseconds(),
		})

		if len(chatResult.ToolCalls) == 0 {
			return a.finalizeResult(ctx, chatResult, start)
		}

		if err := a.persistAssistantMessage(ctx, chatResult); err != nil {
			return Result{}, fmt.Errorf("agent: persist assistant message: %w", err)
		}

		ctx = withAgent(ctx, a)

		toolResults := a.executor.ExecuteBatch(ctx, chatResult.ToolCalls, a.sessionID)
		if err := a.persistToolResults(ctx, chatResult.ToolCalls, toolResults); err != nil {
			return Result{}, fmt.Errorf("agent: persist tool results: %w", err)
		}
	}

	return Result{}, engineerr.IterationLimitError(a.maxIterations)
}

func (a *Agent) finalizeResult(ctx context.Context, chatResult modelsession.ChatResult, start time.Time) (Result, error) {
	if err := a.persistAssistantMessage(ctx, chatResult); err != nil {
		return Result{}, fmt.Errorf("agent: persist assistant message: %w", err)
	}
	duration := time.Since(start)
	a.emitEvent(ctx, models.EventAgentResponse, models.AgentResponsePayload{
		Content:      chatResult.Content,
		InputTokens:  usageOrZero(chatResult.Usage).InputTokens,
		OutputTokens: usageOrZero(chatResult.Usage).OutputTokens,
		DurationMs:   duration.Milliseconds(),
		Model:        a.model.Definition().Name,
		Timestamp:    time.Now(),
	})
	return Result{
		Content:    chatResult.Content,
		Usage:      usageOrZero(chatResult.Usage),
		DurationMs: duration.Milliseconds(),
	}, nil
}

func (a *Agent) cancelledResult(ctx context.Context, start time.Time) Result {
	a.emitEvent(ctx, models.EventAgentResponse, models.AgentResponsePayload{
		Content:    "<cancelled>",
		DurationMs: time.Since(start).Milliseconds(),
		Cancelled:  true,
		Timestamp:  time.Now(),
	})
	return Result{Content: "<cancelled>", Cancelled: true, DurationMs: time.Since(start).Milliseconds()}
}

func usageOrZero(u *models.Usage) models.Usage {
	if u == nil {
		return models.Usage{}
	}
	return *u
}

func (a *Agent) persistUserMessage(ctx context.Context, content string) error {
	msg := models.Message{
		ID:         uuid.NewString(),
		SessionID:  a.sessionID,
		Generation: a.generation.String(),
		Role:       models.RoleUser,
		Content:    content,
		Timestamp:  time.Now(),
	}
	if err := a.deps.ConvStore.SaveMessage(ctx, msg); err != nil {
		return err
	}
	a.emitEvent(ctx, models.EventUserInput, models.UserInputPayload{Content: content, Timestamp: msg.Timestamp})
	return nil
}

func (a *Agent) persistAssistantMessage(ctx context.Context, chatResult modelsession.ChatResult) error {
	msg := models.Message{
		ID:          uuid.NewString(),
		SessionID:   a.sessionID,
		Generation:  a.generation.String(),
		Role:        models.RoleAssistant,
		Content:     chatResult.Content,
		ToolCalls:   chatResult.ToolCalls,
		Usage:       chatResult.Usage,
		Timestamp:   time.Now(),
		ContextSize: a.currentContextSize(),
	}
	return a.deps.ConvStore.SaveMessage(ctx, msg)
}

// persistToolResults records each ToolResult as a tool-result message.
// tool_execution_start/complete events are already emitted by
// toolregistry.Registry.callTool itself (the ToolExecutor calls
// straight through to it), so this only handles the ConversationStore
// side.
func (a *Agent) persistToolResults(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) error {
	for _, result := range results {
		msg := models.Message{
			ID:          uuid.NewString(),
			SessionID:   a.sessionID,
			Generation:  a.generation.String(),
			Role:        models.RoleToolResult,
			Content:     toolResultContent(result),
			ToolResults: []models.ToolResult{result},
			Timestamp:   time.Now(),
		}
		if err := a.deps.ConvStore.SaveMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func toolResultContent(r models.ToolResult) string {
	if r.Success {
		return fmt.Sprintf("%v", r.Data)
	}
	return r.Error
}

func (a *Agent) emitEvent(ctx context.Context, eventType models.EventType, payload any) {
	if a.deps.ActivityLog == nil {
		return
	}
	event := models.NewActivityEvent(eventType, a.sessionID, a.model.Definition().Name, payload)
	a.deps.ActivityLog.LogEvent(ctx, event.EventType, event.SessionID, event.ModelSessionID, event.Data)
}

func (a *Agent) currentContextSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contextSize
}

func (a *Agent) recordUsage(usage *models.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.TotalMessages++
	if usage != nil {
		a.metrics.TotalTokensUsed += usage.TotalTokens
		a.metrics.TotalCacheHits += usage.CacheHits
		a.metrics.TotalCacheCreations += usage.CacheCreations
	}
}

// calculateCost uses the model definition's inputPrice/outputPrice,
// expressed per million tokens.
func (a *Agent) calculateCost(usage *models.Usage) Cost {
	if usage == nil {
		return Cost{}
	}
	def := a.model.Definition()
	inputCost := float64(usage.InputTokens) / 1_000_000 * def.InputPrice
	outputCost := float64(usage.OutputTokens) / 1_000_000 * def.OutputPrice
	return Cost{InputCost: inputCost, OutputCost: outputCost, TotalCost: inputCost + outputCost}
}

func (a *Agent) recordModelDuration(d time.Duration) {
	if a.deps.Metrics == nil {
		return
	}
	def := a.model.Definition()
	a.deps.Metrics.ModelRequestDuration.WithLabelValues(def.Provider, def.Name).Observe(d.Seconds())
}

func (a *Agent) recordCost(cost Cost) {
	if a.deps.Metrics == nil || cost.TotalCost == 0 {
		return
	}
	def := a.model.Definition()
	a.deps.Metrics.ModelCost.WithLabelValues(def.Provider, def.Name).Add(cost.TotalCost)
}

func (a *Agent) recordHandoff() {
	if a.deps.Metrics == nil {
		return
	}
	a.deps.Metrics.AgentHandoffs.WithLabelValues(a.role).Inc()
}

func (a *Agent) recordContextRatio(ratio float64) {
	if a.deps.Metrics == nil {
		return
	}
	a.deps.Metrics.AgentContextRatio.WithLabelValues(a.role, a.generation.String()).Set(ratio)
}
