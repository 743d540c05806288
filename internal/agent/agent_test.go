package agent

import (
	"context"
	"testing"
	"time"

	"github.com/obra/lace-sub007/internal/activitylog"
	"github.com/obra/lace-sub007/internal/agentroles"
	"github.com/obra/lace-sub007/internal/approval"
	"github.com/obra/lace-sub007/internal/convstore"
	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/models"
	"github.com/obra/lace-sub007/internal/toolregistry"
)

func testRoles(t *testing.T) *agentroles.Registry {
	t.Helper()
	roles, err := agentroles.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("load role catalog: %v", err)
	}
	return roles
}

func newTestAgent(t *testing.T, model modelsession.Session, registry *toolregistry.Registry, convStore convstore.Store, actLog activitylog.Log) *Agent {
	t.Helper()
	a, err := New(Deps{
		ToolRegistry: registry,
		ConvStore:    convStore,
		ActivityLog:  actLog,
		DebugLog:     debuglog.NopLogger{},
		Approval:     approval.NewListPolicy(nil, nil, true),
		Roles:        testRoles(t),
	}, Options{
		SessionID: "sess-1",
		Role:      agentroles.RoleGeneral,
		Model:     model,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// Simple single-turn, no tools.
func TestProcessInput_SimpleTurnNoTools(t *testing.T) {
	model := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	model.QueueResponse(modelsession.ChatResult{Success: true, Content: "Hi"})

	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	a := newTestAgent(t, model, registry, store, actLog)

	result, err := a.ProcessInput(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if result.Content != "Hi" {
		t.Errorf("expected content %q, got %q", "Hi", result.Content)
	}

	history, err := store.GetConversationHistory(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("GetConversationHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "Hello" {
		t.Errorf("expected first message to be user:Hello, got %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "Hi" {
		t.Errorf("expected second message to be assistant:Hi, got %+v", history[1])
	}

	events, err := actLog.GetEvents(context.Background(), activitylog.Filter{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	// GetEvents returns newest-first; emission order is user_input <
	// model_request < model_response < agent_response.
	wantOrder := []models.EventType{
		models.EventAgentResponse,
		models.EventModelResponse,
		models.EventModelRequest,
		models.EventUserInput,
	}
	for i, want := range wantOrder {
		if events[i].EventType != want {
			t.Errorf("event[%d] = %s, want %s", i, events[i].EventType, want)
		}
	}
}

// Invariant 4 (§8): a child's generation is strictly greater than its
// parent's, and carries the parent's sessionId.
func TestSpawnSubagent_GenerationAndSession(t *testing.T) {
	model := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	parent := newTestAgent(t, model, registry, store, actLog)

	child, err := parent.SpawnSubagent(SpawnOptions{Role: agentroles.RolePlanning, Task: "design a retry policy"})
	if err != nil {
		t.Fatalf("SpawnSubagent: %v", err)
	}

	if !child.Generation().IsChildOf(parent.Generation()) {
		t.Errorf("expected child generation %s to descend from parent %s", child.Generation(), parent.Generation())
	}
	if !parent.Generation().Less(child.Generation()) {
		t.Errorf("expected parent generation %s < child %s", parent.Generation(), child.Generation())
	}
	if child.SessionID() != parent.SessionID() {
		t.Errorf("expected child to share sessionId, got %s vs %s", child.SessionID(), parent.SessionID())
	}
	if child.Metrics() != (ConversationMetrics{}) {
		t.Errorf("expected fresh conversation metrics on spawn, got %+v", child.Metrics())
	}
}

// Subagent delegation: a delegate tool call spawns a subagent whose
// final content becomes the parent's tool-result, with generation
// parent+0.1 and a shared sessionId.
func TestDelegation_SpawnsSubagentAndReturnsContent(t *testing.T) {
	parentModel := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	parentModel.QueueResponse(modelsession.ChatResult{
		Success: true,
		ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "agent_delegate", Input: map[string]any{
				"purpose":      "plan",
				"instructions": "design a retry policy",
			}},
		},
	})

	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	registry.Register(NewDelegateTool())
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	deps := Deps{
		ToolRegistry: registry,
		ConvStore:    store,
		ActivityLog:  actLog,
		DebugLog:     debuglog.NopLogger{},
		Approval:     approval.NewListPolicy(nil, nil, true),
		Roles:        testRoles(t),
	}

	parent, err := New(deps, Options{SessionID: "sess-1", Role: agentroles.RoleOrchestrator, Model: parentModel})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The spawned subagent shares the parent's model in this test
	// (SpawnSubagent defaults to the parent's model when none is
	// given). The fake's queue is shared FIFO, so the child's reply
	// must sit between the parent's tool call and its final answer.
	parentModel.QueueResponse(modelsession.ChatResult{Success: true, Content: "done"})
	parentModel.QueueResponse(modelsession.ChatResult{Success: true, Content: "synthesized"})

	result, err := parent.ProcessInput(context.Background(), "please plan something")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if result.Content != "synthesized" {
		t.Errorf("expected parent final content %q, got %q", "synthesized", result.Content)
	}

	events, err := actLog.GetEvents(context.Background(), activitylog.Filter{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	var sawChildUserInput bool
	for _, e := range events {
		if e.EventType == models.EventUserInput {
			if content, _ := e.Data["content"].(string); content == "design a retry policy" {
				sawChildUserInput = true
			}
		}
	}
	if !sawChildUserInput {
		t.Errorf("expected a user_input event from the delegated subagent under the shared sessionId")
	}
}

func TestRunDelegation_TimesOut(t *testing.T) {
	model := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	parent := newTestAgent(t, model, registry, store, actLog)

	// No responses queued: with a one-nanosecond timeout the child's
	// context has expired before its first iteration, so the loop
	// returns a cancelled result without ever calling Chat, and
	// RunDelegation reports the expired deadline as a timeout.
	_, err := parent.RunDelegation(context.Background(), "purpose", "instructions", agentroles.RoleGeneral, time.Nanosecond)
	if err == nil {
		t.Fatalf("expected an error from a near-zero delegation timeout")
	}
}

func TestChooseAgentForTask_ReasoningKeyword(t *testing.T) {
	// Invariant 8 (§8): chooseAgentForTask("analyze this bug and
	// explain the root cause") selects "reasoning".
	model := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	a := newTestAgent(t, model, registry, store, actLog)

	selection := a.ChooseAgentForTask("analyze this bug and explain the root cause")
	if selection.Role != agentroles.RoleReasoning {
		t.Errorf("expected role %q, got %q", agentroles.RoleReasoning, selection.Role)
	}
}

func TestCacheHitRate_Formatting(t *testing.T) {
	cases := []struct {
		hits, creations int
		want            string
	}{
		{0, 0, "0.0%"},
		{2, 1, "66.7%"},
		{1, 1, "50.0%"},
	}
	for _, tc := range cases {
		m := ConversationMetrics{TotalCacheHits: tc.hits, TotalCacheCreations: tc.creations}
		if got := m.CacheHitRate(); got != tc.want {
			t.Errorf("CacheHitRate(hits=%d,creations=%d) = %q, want %q", tc.hits, tc.creations, got, tc.want)
		}
	}
}

func TestCalculateCost(t *testing.T) {
	model := modelsession.NewFakeSession(modelsession.Definition{
		Name: "test-model", Provider: "test", InputPrice: 3, OutputPrice: 15,
	})
	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})
	a := newTestAgent(t, model, registry, store, actLog)

	cost := a.calculateCost(&models.Usage{InputTokens: 1_000_000, OutputTokens: 500_000})
	if cost.InputCost != 3 {
		t.Errorf("expected input cost 3, got %v", cost.InputCost)
	}
	if cost.OutputCost != 7.5 {
		t.Errorf("expected output cost 7.5, got %v", cost.OutputCost)
	}
	if cost.TotalCost != 10.5 {
		t.Errorf("expected total cost 10.5, got %v", cost.TotalCost)
	}
}

// IterationLimit: a model that keeps requesting tool calls runs the
// loop until MaxIterations is exhausted, and processInput surfaces an
// IterationLimitReached error rather than looping forever.
func TestProcessInput_IterationLimitReached(t *testing.T) {
	model := modelsession.NewFakeSession(modelsession.Definition{Name: "test-model", Provider: "test"})
	registry := toolregistry.New(debuglog.NopLogger{}, nil)
	registry.Register(NewDelegateTool())
	store := convstore.NewMemoryStore()
	actLog := activitylog.NewMemoryLog(0, debuglog.NopLogger{})

	a, err := New(Deps{
		ToolRegistry: registry,
		ConvStore:    store,
		ActivityLog:  actLog,
		DebugLog:     debuglog.NopLogger{},
		Approval:     approval.NewListPolicy([]string{"*"}, nil, false),
		Roles:        testRoles(t),
	}, Options{
		SessionID:     "sess-loop",
		Role:          agentroles.RoleGeneral,
		Model:         model,
		MaxIterations: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		model.QueueResponse(modelsession.ChatResult{
			Success: true,
			ToolCalls: []models.ToolCall{
				{ID: "call", Name: "does_not_exist", Input: map[string]any{}},
			},
		})
	}

	_, err = a.ProcessInput(context.Background(), "keep calling tools")
	if err == nil {
		t.Fatalf("expected iteration limit error")
	}
}
