package convstore

import (
	"context"
	"testing"
	"time"

	"github.com/obra/lace-sub007/internal/models"
)

func newMessage(id, sessionID, generation string, role models.MessageRole, content string) models.Message {
	return models.Message{
		ID:         id,
		SessionID:  sessionID,
		Generation: generation,
		Role:       role,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

func runStoreConformance(t *testing.T, newStore func() Store) {
	t.Run("GetConversationHistory returns oldest-first even when limited", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		for i, content := range []string{"first", "second", "third"} {
			msg := newMessage(idFor(i), "s1", "0", models.RoleUser, content)
			if err := s.SaveMessage(ctx, msg); err != nil {
				t.Fatalf("SaveMessage: %v", err)
			}
		}

		history, err := s.GetConversationHistory(ctx, "s1", 2)
		if err != nil {
			t.Fatalf("GetConversationHistory: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(history))
		}
		if history[0].Content != "second" || history[1].Content != "third" {
			t.Errorf("expected oldest-first [second, third], got [%s, %s]", history[0].Content, history[1].Content)
		}
	})

	t.Run("GetConversationHistory with no limit returns everything", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		s.SaveMessage(ctx, newMessage("a", "s1", "0", models.RoleUser, "hi"))
		s.SaveMessage(ctx, newMessage("b", "s1", "0", models.RoleAssistant, "hello"))

		history, err := s.GetConversationHistory(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("GetConversationHistory: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(history))
		}
	})

	t.Run("GetGenerationHistory isolates by generation", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		s.SaveMessage(ctx, newMessage("a", "s1", "0", models.RoleUser, "root gen"))
		s.SaveMessage(ctx, newMessage("b", "s1", "0.0", models.RoleUser, "child gen"))
		s.SaveMessage(ctx, newMessage("c", "s1", "0", models.RoleAssistant, "root gen reply"))

		rootHistory, err := s.GetGenerationHistory(ctx, "s1", "0")
		if err != nil {
			t.Fatalf("GetGenerationHistory: %v", err)
		}
		if len(rootHistory) != 2 {
			t.Fatalf("expected 2 root-generation messages, got %d", len(rootHistory))
		}

		childHistory, err := s.GetGenerationHistory(ctx, "s1", "0.0")
		if err != nil {
			t.Fatalf("GetGenerationHistory: %v", err)
		}
		if len(childHistory) != 1 {
			t.Fatalf("expected 1 child-generation message, got %d", len(childHistory))
		}
	})

	t.Run("SearchConversations matches substrings case-insensitively", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		s.SaveMessage(ctx, newMessage("a", "s1", "0", models.RoleUser, "please refactor the Breaker package"))
		s.SaveMessage(ctx, newMessage("b", "s1", "0", models.RoleAssistant, "done, tests pass"))

		results, err := s.SearchConversations(ctx, "s1", "breaker", 10)
		if err != nil {
			t.Fatalf("SearchConversations: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 match, got %d", len(results))
		}
	})

	t.Run("SearchConversations is scoped to the session", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		s.SaveMessage(ctx, newMessage("a", "s1", "0", models.RoleUser, "shared keyword"))
		s.SaveMessage(ctx, newMessage("b", "s2", "0", models.RoleUser, "shared keyword"))

		results, err := s.SearchConversations(ctx, "s1", "shared", 10)
		if err != nil {
			t.Fatalf("SearchConversations: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 match scoped to s1, got %d", len(results))
		}
	})

	t.Run("SaveHandoff records are independent of the message transcript", func(t *testing.T) {
		s := newStore()
		defer s.Close()
		ctx := context.Background()

		s.SaveMessage(ctx, newMessage("a", "s1", "0", models.RoleUser, "hi"))
		if err := s.SaveHandoff(ctx, HandoffRecord{
			SessionID:         "s1",
			Generation:        "0",
			CompressedContext: "summary of the conversation so far",
			Reason:            "context_budget_exceeded",
		}); err != nil {
			t.Fatalf("SaveHandoff: %v", err)
		}

		history, err := s.GetConversationHistory(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("GetConversationHistory: %v", err)
		}
		if len(history) != 1 {
			t.Errorf("expected handoff to not appear in the transcript, got %d messages", len(history))
		}
	})
}

func idFor(i int) string {
	return "msg-" + string(rune('a'+i))
}

func TestMemoryStore_Conformance(t *testing.T) {
	runStoreConformance(t, func() Store { return NewMemoryStore() })
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runStoreConformance(t, func() Store {
		store, err := NewSQLiteStore(Config{Path: ":memory:"})
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		return store
	})
}

func TestSQLiteStore_SaveMessageWithoutIDFails(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	err = store.SaveMessage(context.Background(), models.Message{SessionID: "s1", Content: "no id"})
	if err == nil {
		t.Fatal("expected an error for a message with no ID")
	}
}
