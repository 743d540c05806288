package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/toolexec"
)

// buildSystemPrompt assembles the system prompt from role, task,
// capabilities, model name, and the available-tools summary (spec
// §4.7 step 2).
func (a *Agent) buildSystemPrompt(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(a.roleDef.SystemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Role: %s\n", a.role)
	if a.task != "" {
		fmt.Fprintf(&b, "Task: %s\n", a.task)
	}
	if len(a.capabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(a.capabilities, ", "))
	}
	fmt.Fprintf(&b, "Model: %s\n", a.model.Definition().Name)

	tools := toolexec.BuildModelTools(a.deps.ToolRegistry)
	if len(tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}
	return b.String()
}

// toToolDefinitions converts the executor's model-facing tool shapes
// into the modelsession.ToolDefinition shape ModelSession.Chat expects.
func toToolDefinitions(tools []toolexec.ModelTool) []modelsession.ToolDefinition {
	defs := make([]modelsession.ToolDefinition, len(tools))
	for i, t := range tools {
		properties := make(map[string]any, len(t.InputSchema.Properties))
		for name, p := range t.InputSchema.Properties {
			properties[name] = map[string]any{"type": p.Type, "description": p.Description}
		}
		defs[i] = modelsession.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{
				"type":       t.InputSchema.Type,
				"properties": properties,
				"required":   t.InputSchema.Required,
			},
		}
	}
	return defs
}
