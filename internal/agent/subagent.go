package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/obra/lace-sub007/internal/modelsession"
)

// DefaultDelegationTimeout is the delegation tool's default budget
// when the caller doesn't specify one.
const DefaultDelegationTimeout = 5 * time.Minute

// SpawnOptions configures SpawnSubagent.
type SpawnOptions struct {
	Role         string
	Model        modelsession.Session
	Task         string
	Capabilities []string
}

// SpawnSubagent constructs a child Agent: a strictly greater
// generation, inherited shared collaborators, fresh conversation
// metrics and circuit-breaker state, the same sessionID.
func (a *Agent) SpawnSubagent(opts SpawnOptions) (*Agent, error) {
	a.mu.Lock()
	a.subagentCounter++
	childIndex := a.subagentCounter
	a.mu.Unlock()

	model := opts.Model
	if model == nil {
		model = a.model
	}

	return New(a.deps, Options{
		ID:           uuid.NewString(),
		SessionID:    a.sessionID,
		Generation:   a.generation.Child(childIndex),
		Role:         opts.Role,
		Model:        model,
		Task:         opts.Task,
		Capabilities: opts.Capabilities,
	})
}

// RunDelegation spawns a subagent for a delegate tool call, runs its
// loop to completion (or until timeout/cancellation), and returns the
// content that becomes the parent's tool-result.
func (a *Agent) RunDelegation(ctx context.Context, purpose, instructions, role string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultDelegationTimeout
	}
	child, err := a.SpawnSubagent(SpawnOptions{Role: role, Task: purpose})
	if err != nil {
		return "", fmt.Errorf("spawn subagent: %w", err)
	}

	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := child.ProcessInput(childCtx, instructions)
	if err != nil {
		if childCtx.Err() != nil {
			return "", fmt.Errorf("timed out after %dms", timeout.Milliseconds())
		}
		return "", err
	}
	if result.Cancelled {
		if ctx.Err() == nil && childCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("timed out after %dms", timeout.Milliseconds())
		}
		return "", fmt.Errorf("subagent cancelled")
	}
	return result.Content, nil
}
