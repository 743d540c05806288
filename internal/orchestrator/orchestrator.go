// Package orchestrator implements the process-wide entry point: it
// creates the root Agent, owns the shared ActivityLog,
// ConversationStore, ToolRegistry, and ModelProvider, and routes one
// user message to a response, rejecting a second processInput on the
// same session before the first returns.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/obra/lace-sub007/internal/activitylog"
	"github.com/obra/lace-sub007/internal/agent"
	"github.com/obra/lace-sub007/internal/agentroles"
	"github.com/obra/lace-sub007/internal/approval"
	"github.com/obra/lace-sub007/internal/convstore"
	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/engineerr"
	"github.com/obra/lace-sub007/internal/metrics"
	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/toolregistry"
)

// ModelProvider resolves a named model to a session the Orchestrator
// can hand an Agent. A real implementation wraps a concrete provider's
// HTTP client; that wiring is out of scope here.
type ModelProvider interface {
	Session(ctx context.Context, modelName string) (modelsession.Session, error)
}

// ModelProviderFunc adapts a function to ModelProvider.
type ModelProviderFunc func(ctx context.Context, modelName string) (modelsession.Session, error)

func (f ModelProviderFunc) Session(ctx context.Context, modelName string) (modelsession.Session, error) {
	return f(ctx, modelName)
}

// Config configures an Orchestrator. Every field has a workable
// zero-value fallback except ModelProvider and Roles, which are
// required.
type Config struct {
	ActivityLog   activitylog.Log
	ConvStore     convstore.Store
	ToolRegistry  *toolregistry.Registry
	Approval      approval.Engine
	DebugLog      debuglog.Logger
	Roles         *agentroles.Registry
	ModelProvider ModelProvider
	Metrics       *metrics.Metrics

	// RootRole is the role used to construct each session's root
	// Agent; defaults to agentroles.RoleOrchestrator.
	RootRole string
}

// Orchestrator is the process-wide entry point. It exclusively owns
// the ActivityLog, ConversationStore, ToolRegistry, ApprovalEngine,
// and each session's root Agent.
type Orchestrator struct {
	activityLog   activitylog.Log
	convStore     convstore.Store
	toolRegistry  *toolregistry.Registry
	approval      approval.Engine
	debugLog      debuglog.Logger
	roles         *agentroles.Registry
	modelProvider ModelProvider
	metrics       *metrics.Metrics
	rootRole      string

	mu            sync.Mutex
	activeTurns   map[string]struct{}
	rootAgents    map[string]*agent.Agent
}

// New constructs an Orchestrator. ModelProvider and Roles are
// required; everything else defaults to an in-memory implementation
// suitable for tests and single-process demos.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.ModelProvider == nil {
		return nil, fmt.Errorf("orchestrator: ModelProvider is required")
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("orchestrator: Roles is required")
	}
	if cfg.DebugLog == nil {
		cfg.DebugLog = debuglog.NopLogger{}
	}
	if cfg.ActivityLog == nil {
		cfg.ActivityLog = activitylog.NewMemoryLog(0, cfg.DebugLog)
	}
	if cfg.ConvStore == nil {
		cfg.ConvStore = convstore.NewMemoryStore()
	}
	if cfg.ToolRegistry == nil {
		cfg.ToolRegistry = toolregistry.New(cfg.DebugLog, cfg.ActivityLog)
		cfg.ToolRegistry.Register(agent.NewDelegateTool())
	}
	if cfg.Approval == nil {
		cfg.Approval = approval.NewListPolicy(nil, nil, true)
	}
	if cfg.RootRole == "" {
		cfg.RootRole = agentroles.RoleOrchestrator
	}

	return &Orchestrator{
		activityLog:   cfg.ActivityLog,
		convStore:     cfg.ConvStore,
		toolRegistry:  cfg.ToolRegistry,
		approval:      cfg.Approval,
		debugLog:      cfg.DebugLog,
		roles:         cfg.Roles,
		modelProvider: cfg.ModelProvider,
		metrics:       cfg.Metrics,
		rootRole:      cfg.RootRole,
		activeTurns:   make(map[string]struct{}),
		rootAgents:    make(map[string]*agent.Agent),
	}, nil
}

// ActivityLog, ConversationStore, and ToolRegistry expose the shared
// collaborators for callers that need direct read access (e.g. a
// terminal UI polling for new events) without reaching into
// per-session Agent state.
func (o *Orchestrator) ActivityLog() activitylog.Log          { return o.activityLog }
func (o *Orchestrator) ConversationStore() convstore.Store    { return o.convStore }
func (o *Orchestrator) ToolRegistry() *toolregistry.Registry  { return o.toolRegistry }

// HandleMessage routes one user message through the session's root
// Agent, creating that Agent on first use and reusing it for
// subsequent turns on the same session. Concurrent turns on the same
// session are rejected.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, content string) (agent.Result, error) {
	if err := o.beginTurn(sessionID); err != nil {
		return agent.Result{}, err
	}
	defer o.endTurn(sessionID)

	root, err := o.rootAgent(ctx, sessionID)
	if err != nil {
		return agent.Result{}, fmt.Errorf("orchestrator: acquire root agent: %w", err)
	}

	return root.ProcessInput(ctx, content)
}

func (o *Orchestrator) beginTurn(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, inFlight := o.activeTurns[sessionID]; inFlight {
		return engineerr.ConcurrentTurnError(sessionID)
	}
	o.activeTurns[sessionID] = struct{}{}
	return nil
}

func (o *Orchestrator) endTurn(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeTurns, sessionID)
}

// rootAgent returns the session's root Agent, constructing it on
// first use. A session's lifetime outlives any single Agent; multiple
// turns reuse the same session id and store.
func (o *Orchestrator) rootAgent(ctx context.Context, sessionID string) (*agent.Agent, error) {
	o.mu.Lock()
	existing, ok := o.rootAgents[sessionID]
	o.mu.Unlock()
	if ok {
		return existing, nil
	}

	def := o.roles.MustGet(o.rootRole)
	modelName := def.DefaultModel
	session, err := o.modelProvider.Session(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", modelName, err)
	}

	root, err := agent.New(agent.Deps{
		ToolRegistry: o.toolRegistry,
		ConvStore:    o.convStore,
		ActivityLog:  o.activityLog,
		DebugLog:     o.debugLog,
		Approval:     o.approval,
		Roles:        o.roles,
		Metrics:      o.metrics,
	}, agent.Options{
		SessionID: sessionID,
		Role:      o.rootRole,
		Model:     session,
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.rootAgents[sessionID]; ok {
		return existing, nil
	}
	o.rootAgents[sessionID] = root
	return root, nil
}

// Close releases the shared ActivityLog and ConversationStore.
func (o *Orchestrator) Close() error {
	logErr := o.activityLog.Close()
	storeErr := o.convStore.Close()
	if logErr != nil {
		return logErr
	}
	return storeErr
}
