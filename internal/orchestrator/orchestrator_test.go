package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/obra/lace-sub007/internal/agentroles"
	"github.com/obra/lace-sub007/internal/engineerr"
	"github.com/obra/lace-sub007/internal/modelsession"
)

func testRoles(t *testing.T) *agentroles.Registry {
	t.Helper()
	roles, err := agentroles.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("load role catalog: %v", err)
	}
	return roles
}

// echoProvider hands out a fresh FakeSession queued to echo one
// response per call, enough to drive ProcessInput through a single
// no-tool turn.
type echoProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProvider) Session(ctx context.Context, modelName string) (modelsession.Session, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	session := modelsession.NewFakeSession(modelsession.Definition{Name: modelName, Provider: "test"})
	for i := 0; i < 50; i++ {
		session.QueueResponse(modelsession.ChatResult{Success: true, Content: "ack"})
	}
	return session, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *echoProvider) {
	t.Helper()
	provider := &echoProvider{}
	orch, err := New(Config{
		Roles:         testRoles(t),
		ModelProvider: provider,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch, provider
}

func TestHandleMessage_ReusesRootAgentAcrossTurns(t *testing.T) {
	orch, provider := newTestOrchestrator(t)

	if _, err := orch.HandleMessage(context.Background(), "sess-1", "hello"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := orch.HandleMessage(context.Background(), "sess-1", "again"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("expected the model provider to be asked once (root agent reused), got %d calls", provider.calls)
	}

	history, err := orch.ConversationStore().GetConversationHistory(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("GetConversationHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages across two turns, got %d", len(history))
	}
}

func TestHandleMessage_SeparateSessionsGetSeparateAgents(t *testing.T) {
	orch, provider := newTestOrchestrator(t)

	if _, err := orch.HandleMessage(context.Background(), "sess-a", "hello"); err != nil {
		t.Fatalf("sess-a turn: %v", err)
	}
	if _, err := orch.HandleMessage(context.Background(), "sess-b", "hello"); err != nil {
		t.Fatalf("sess-b turn: %v", err)
	}

	if provider.calls != 2 {
		t.Errorf("expected one model resolution per session, got %d", provider.calls)
	}
}

func TestHandleMessage_RejectsConcurrentTurnOnSameSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	if err := orch.beginTurn("sess-1"); err != nil {
		t.Fatalf("beginTurn: %v", err)
	}
	defer orch.endTurn("sess-1")

	_, err := orch.HandleMessage(context.Background(), "sess-1", "hello")
	if err == nil {
		t.Fatalf("expected a concurrent-turn error")
	}
	if !engineerr.Is(err, engineerr.KindConcurrentTurn) {
		t.Errorf("expected KindConcurrentTurn, got %v", err)
	}
}

func TestHandleMessage_AllowsSequentialTurnsAfterPriorCompletes(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.HandleMessage(context.Background(), "sess-1", "hello")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("first turn did not complete in time")
	}

	if _, err := orch.HandleMessage(context.Background(), "sess-1", "again"); err != nil {
		t.Fatalf("expected the second sequential turn to succeed, got %v", err)
	}
}

func TestClose_ClosesBothStores(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	if _, err := orch.HandleMessage(context.Background(), "sess-1", "hello"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A second Close is a no-op (idempotent Close), not an error.
	if err := orch.Close(); err != nil {
		t.Errorf("second Close returned an error: %v", err)
	}
}

func TestNew_RequiresModelProviderAndRoles(t *testing.T) {
	if _, err := New(Config{Roles: testRoles(t)}); err == nil {
		t.Errorf("expected an error when ModelProvider is missing")
	}
	if _, err := New(Config{ModelProvider: &echoProvider{}}); err == nil {
		t.Errorf("expected an error when Roles is missing")
	}
}
