package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of activity events the engine emits.
// Identifiers are bit-exact; readers depend on them.
type EventType string

const (
	EventUserInput            EventType = "user_input"
	EventAgentResponse         EventType = "agent_response"
	EventModelRequest         EventType = "model_request"
	EventModelResponse        EventType = "model_response"
	EventToolExecutionStart   EventType = "tool_execution_start"
	EventToolExecutionComplete EventType = "tool_execution_complete"
	EventSnapshotError        EventType = "snapshot_error"
)

// ActivityEvent is one append-only record in the ActivityLog. Data
// carries the event-type-specific payload, realized by the Payload
// variants below. Construct via NewActivityEvent so the JSON shape is
// always consistent.
type ActivityEvent struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"eventType"`
	SessionID      string         `json:"sessionId"`
	ModelSessionID string         `json:"modelSessionId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
}

// UserInputPayload is the data shape for EventUserInput.
type UserInputPayload struct {
	Content   string    `json:"content"`
	InputMode string    `json:"inputMode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentResponsePayload is the data shape for EventAgentResponse.
type AgentResponsePayload struct {
	Content      string  `json:"content"`
	Tokens       int     `json:"tokens,omitempty"`
	InputTokens  int     `json:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
	Model        string  `json:"model,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Cancelled    bool    `json:"cancelled,omitempty"`
}

// ModelRequestPayload is the data shape for EventModelRequest.
// Prompt is the serialized message array sent to the model.
type ModelRequestPayload struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Prompt    json.RawMessage `json:"prompt"`
	Timestamp time.Time       `json:"timestamp"`
}

// ModelResponsePayload is the data shape for EventModelResponse.
type ModelResponsePayload struct {
	Content    string  `json:"content"`
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
	Cost       float64 `json:"cost"`
	DurationMs int64   `json:"duration_ms"`
}

// ToolExecutionStartPayload is the data shape for EventToolExecutionStart.
type ToolExecutionStartPayload struct {
	Tool   string         `json:"tool"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ToolExecutionCompletePayload is the data shape for EventToolExecutionComplete.
type ToolExecutionCompletePayload struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// SnapshotErrorKind distinguishes pre-tool from post-tool snapshot failures.
type SnapshotErrorKind string

const (
	SnapshotErrorPre  SnapshotErrorKind = "pre-tool"
	SnapshotErrorPost SnapshotErrorKind = "post-tool"
)

// SnapshotErrorPayload is the data shape for EventSnapshotError.
type SnapshotErrorPayload struct {
	Error string            `json:"error"`
	Type  SnapshotErrorKind `json:"type"`
}

// toMap marshals a typed payload into the generic map ActivityEvent.Data
// carries at the persistence boundary.
func toMap(payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// NewActivityEvent constructs an ActivityEvent for the given type and a
// typed payload, keeping callers from hand-assembling the Data map.
func NewActivityEvent(eventType EventType, sessionID, modelSessionID string, payload any) *ActivityEvent {
	return &ActivityEvent{
		EventType:      eventType,
		SessionID:      sessionID,
		ModelSessionID: modelSessionID,
		Timestamp:      time.Now(),
		Data:           toMap(payload),
	}
}
