// Package modelsession defines the ModelSession capability: a
// stateful dialog with a single model, exposing chat, token counting,
// and a read-only definition. No concrete provider is implemented
// here. HTTP clients, SSE parsing, and vendor-specific framing are
// out of scope.
package modelsession

import (
	"context"

	"github.com/obra/lace-sub007/internal/models"
)

// ChatOptions configures a single ModelSession.Chat call.
type ChatOptions struct {
	// System is the system prompt, kept out of the persisted Messages
	// transcript since it is rebuilt fresh on every call rather than
	// stored.
	System        string
	Tools         []ToolDefinition
	MaxTokens     int
	Temperature   float64
	EnableCaching bool

	// OnTokenUpdate streams incremental progress; nil disables streaming.
	OnTokenUpdate func(update TokenUpdate)
}

// TokenUpdate is one increment delivered through ChatOptions.OnTokenUpdate.
type TokenUpdate struct {
	Token          string
	ThinkingToken  string
	ToolUseStart   *models.ToolCall
	ToolInputDelta string
	ToolUseComplete *models.ToolCall
}

// ToolDefinition is the model-facing shape of a tool, converted by the
// Agent from the toolexec.ModelTool entries BuildModelTools returns.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatResult is ModelSession.Chat's return shape.
type ChatResult struct {
	Success   bool
	Content   string
	ToolCalls []models.ToolCall
	Usage     *models.Usage
	SessionID string
	Error     string
}

// CountTokensOptions configures ModelSession.CountTokens.
type CountTokensOptions struct {
	Model         string
	Tools         []ToolDefinition
	EnableCaching bool
}

// CountTokensResult is ModelSession.CountTokens's return shape, a
// best-effort pre-flight sizing estimate.
type CountTokensResult struct {
	Success      bool
	InputTokens  int
	TotalTokens  int
	Error        string
}

// Definition is the model's read-only metadata.
type Definition struct {
	Name          string
	Provider      string
	ContextWindow int

	// InputPrice and OutputPrice are cost-units per million tokens,
	// consumed by Agent.calculateCost.
	InputPrice  float64
	OutputPrice float64

	Capabilities []string
}

// Session is the ModelSession capability the engine consumes from each
// model. Implementations must be safe for the engine's
// single-Agent-at-a-time use (one in-flight model call per Agent);
// concurrent use across distinct Agents is expected.
type Session interface {
	Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (ChatResult, error)
	CountTokens(ctx context.Context, messages []models.Message, opts CountTokensOptions) (CountTokensResult, error)
	Definition() Definition
}
