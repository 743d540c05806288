package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra/lace-sub007/internal/convstore"
	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/models"
	"github.com/obra/lace-sub007/internal/retrypolicy"
	"github.com/obra/lace-sub007/internal/toolexec"
)

// checkContextBudget estimates contextSize (history + system prompt +
// tool schemas) and reports whether it exceeds handoffThreshold. A
// failed or unsuccessful token count makes this check advisory: it is
// skipped (not treated as an overflow) rather than blocking the loop.
func (a *Agent) checkContextBudget(ctx context.Context, history []models.Message, systemPrompt string, tools []toolexec.ModelTool) (bool, error) {
	countMessages := append([]models.Message{{Content: systemPrompt}}, history...)
	for _, t := range tools {
		countMessages = append(countMessages, models.Message{Content: t.Name + " " + t.Description})
	}

	result, err := a.model.CountTokens(ctx, countMessages, modelsession.CountTokensOptions{})
	if err != nil || !result.Success {
		if a.deps.DebugLog != nil {
			a.deps.DebugLog.Warn(ctx, "context size estimate unavailable, skipping handoff check", "agent", a.id, "error", err)
		}
		return false, nil
	}

	a.mu.Lock()
	a.contextSize = result.TotalTokens
	a.mu.Unlock()

	if a.maxContextSize <= 0 {
		return false, nil
	}
	ratio := float64(result.TotalTokens) / float64(a.maxContextSize)
	a.recordContextRatio(ratio)
	return ratio > a.handoffThreshold, nil
}

// chat invokes ModelSession.chat subject to RetryPolicy.
func (a *Agent) chat(ctx context.Context, history []models.Message, systemPrompt string, tools []toolexec.ModelTool) (modelsession.ChatResult, error) {
	opts := modelsession.ChatOptions{
		System:        systemPrompt,
		Tools:         toToolDefinitions(tools),
		MaxTokens:     4096,
		EnableCaching: true,
	}

	var result modelsession.ChatResult
	err := retrypolicy.Do(ctx, a.retryConfig, func(attempt int) error {
		var chatErr error
		result, chatErr = a.model.Chat(ctx, history, opts)
		return chatErr
	})
	return result, err
}

// triggerHandoff compresses the current history into a summary (via a
// single, tool-free model call asking for one), persists a
// HandoffRecord, and resets the Agent's bookkeeping so the next
// iteration proceeds with only that summary as history. This Agent
// value is reused as its own successor rather than the caller
// receiving a second *Agent to track mid-turn.
func (a *Agent) triggerHandoff(ctx context.Context, history []models.Message) error {
	summary, err := a.summarize(ctx, history)
	if err != nil {
		return fmt.Errorf("summarize history for handoff: %w", err)
	}

	if err := a.deps.ConvStore.SaveHandoff(ctx, convstore.HandoffRecord{
		SessionID:         a.sessionID,
		Generation:        a.generation.String(),
		CompressedContext: summary,
		Reason:            "context_budget_exceeded",
	}); err != nil {
		return fmt.Errorf("save handoff record: %w", err)
	}

	summaryMsg := models.Message{
		ID:         fmt.Sprintf("handoff-%s", a.generation.String()),
		SessionID:  a.sessionID,
		Generation: a.generation.String(),
		Role:       models.RoleAssistant,
		Content:    "[handoff summary] " + summary,
	}
	if err := a.deps.ConvStore.SaveMessage(ctx, summaryMsg); err != nil {
		return fmt.Errorf("persist handoff summary message: %w", err)
	}

	a.mu.Lock()
	a.contextSize = 0
	a.mu.Unlock()
	return nil
}

// summarize asks the model to compress history into a short summary
// with no tools available, falling back to a naive truncation if the
// call fails so handoff never blocks on the summarizer itself.
func (a *Agent) summarize(ctx context.Context, history []models.Message) (string, error) {
	result, err := a.model.Chat(ctx, history, modelsession.ChatOptions{
		System:    "Summarize the conversation so far in a few sentences, preserving any decisions and open questions.",
		MaxTokens: 512,
	})
	if err == nil && result.Success && result.Content != "" {
		return result.Content, nil
	}
	return naiveSummary(history), nil
}

func naiveSummary(history []models.Message) string {
	var b strings.Builder
	const maxChars = 2000
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		if b.Len() > maxChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
