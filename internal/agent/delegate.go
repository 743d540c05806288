package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/obra/lace-sub007/internal/toolregistry"
)

// agentContextKey is the context key a delegating Agent stashes itself
// under before dispatching a tool batch, so DelegateTool's Call (which
// only receives ctx/method/params, per the shared toolregistry.Tool
// contract) can find which Agent is asking to spawn a subagent.
type agentContextKey struct{}

func withAgent(ctx context.Context, a *Agent) context.Context {
	return context.WithValue(ctx, agentContextKey{}, a)
}

func callerFromContext(ctx context.Context) (*Agent, bool) {
	a, ok := ctx.Value(agentContextKey{}).(*Agent)
	return a, ok
}

// DelegateTool is the "agent_delegate" canonical tool call: spawning a
// subagent and running it to completion, registered once on the
// shared ToolRegistry so every Agent (root and subagents alike) can
// delegate further.
type DelegateTool struct{}

// NewDelegateTool constructs the delegation tool.
func NewDelegateTool() *DelegateTool { return &DelegateTool{} }

func (t *DelegateTool) Name() string { return "agent" }

func (t *DelegateTool) Schema() toolregistry.Schema {
	return toolregistry.Schema{
		Description: "Delegate a subtask to a freshly spawned subagent and wait for its result.",
		Methods: map[string]toolregistry.MethodSpec{
			"delegate": {
				Description: "Spawn a subagent for the given purpose/instructions and return its final answer.",
				Parameters: map[string]toolregistry.ParamSpec{
					"purpose":      {Type: "string", Description: "Short description of the subtask", Required: true},
					"instructions": {Type: "string", Description: "Full instructions given to the subagent", Required: true},
					"role":         {Type: "string", Description: "Role override; inferred from purpose/instructions if omitted", Required: false},
					"timeout_ms":   {Type: "number", Description: "Delegation timeout in milliseconds, default 300000", Required: false},
				},
			},
		},
	}
}

// Call spawns and runs a subagent to completion, returning its final
// content as the delegate tool's result.
func (t *DelegateTool) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	if method != "delegate" {
		return nil, fmt.Errorf("agent tool: unknown method %q", method)
	}

	caller, ok := callerFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("agent tool: no delegating agent found in context")
	}

	purpose, _ := params["purpose"].(string)
	instructions, _ := params["instructions"].(string)
	role, _ := params["role"].(string)
	if role == "" {
		role = caller.ChooseAgentForTask(purpose + " " + instructions).Role
	}

	timeout := DefaultDelegationTimeout
	if raw, ok := params["timeout_ms"].(float64); ok && raw > 0 {
		timeout = time.Duration(raw) * time.Millisecond
	}

	content, err := caller.RunDelegation(ctx, purpose, instructions, role, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content}, nil
}

var _ toolregistry.Tool = (*DelegateTool)(nil)
