// Package models defines the shared data shapes that flow between the
// engine's components: messages, tool calls/results, activity events,
// sessions, and agent lineage.
package models

import "time"

// MessageRole identifies the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleToolCall  MessageRole = "tool_call"
	RoleToolResult MessageRole = "tool_result"
	RoleStreaming MessageRole = "streaming"
	RoleLoading   MessageRole = "loading"
	RoleActivity  MessageRole = "agent_activity"
)

// Usage reports token accounting for a single model call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`

	// CacheHits and CacheCreations track provider-side prompt caching,
	// consumed by Agent.conversationMetrics.
	CacheHits     int `json:"cacheHits,omitempty"`
	CacheCreations int `json:"cacheCreations,omitempty"`
}

// Timing reports how long a model or tool call took.
type Timing struct {
	DurationMs int64 `json:"durationMs"`
}

// ToolCall is a structured request from the model to invoke a named tool
// with named parameters.
type ToolCall struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the engine's response to a ToolCall, always paired 1:1
// with the call that produced it.
type ToolResult struct {
	CallID     string `json:"callId"`
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`

	// Denied and Recovered surface the ApprovalDenied and CircuitOpen
	// synthetic-result shapes without overloading Error.
	Denied    bool `json:"denied,omitempty"`
	Recovered bool `json:"recovered,omitempty"`
}

// Message is one entry in a session's ordered transcript. Generation is
// a display-friendly string rendered from a models.Generation path;
// ordering is never derived from it.
type Message struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	Generation   string       `json:"generation"`
	Role         MessageRole  `json:"role"`
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults  []ToolResult `json:"toolResults,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Timing       *Timing      `json:"timing,omitempty"`
	ContextSize  int          `json:"contextSize,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}
