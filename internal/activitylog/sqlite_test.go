package activitylog

import (
	"context"
	"testing"

	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/models"
)

func TestSQLiteLog_LogAndGetEvents(t *testing.T) {
	log, err := NewSQLiteLog(Config{Path: ":memory:"}, debuglog.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	log.LogEvent(context.Background(), models.EventUserInput, "sess-1", "", map[string]any{"content": "hello"})
	log.LogEvent(context.Background(), models.EventAgentResponse, "sess-1", "model-x", map[string]any{"content": "hi"})
	log.LogEvent(context.Background(), models.EventUserInput, "sess-2", "", map[string]any{"content": "other session"})
	log.Flush()

	events, err := log.GetEvents(context.Background(), Filter{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for sess-1, got %d", len(events))
	}
	// Newest-first.
	if events[0].EventType != models.EventAgentResponse {
		t.Errorf("expected newest event first, got %s", events[0].EventType)
	}
	if events[0].ModelSessionID != "model-x" {
		t.Errorf("expected modelSessionId to round-trip, got %q", events[0].ModelSessionID)
	}
	if got, _ := events[1].Data["content"].(string); got != "hello" {
		t.Errorf("expected decoded data payload, got %+v", events[1].Data)
	}
}

func TestSQLiteLog_FilterByEventType(t *testing.T) {
	log, err := NewSQLiteLog(Config{Path: ":memory:"}, debuglog.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	log.LogEvent(context.Background(), models.EventUserInput, "sess-1", "", map[string]any{})
	log.LogEvent(context.Background(), models.EventAgentResponse, "sess-1", "", map[string]any{})
	log.Flush()

	events, err := log.GetEvents(context.Background(), Filter{EventType: models.EventAgentResponse})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.EventAgentResponse {
		t.Fatalf("expected exactly one agent_response event, got %+v", events)
	}
}

func TestSQLiteLog_CloseIsIdempotentAndStopsWrites(t *testing.T) {
	log, err := NewSQLiteLog(Config{Path: ":memory:"}, debuglog.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Errorf("second Close returned an error: %v", err)
	}

	// LogEvent after Close must not panic or block.
	log.LogEvent(context.Background(), models.EventUserInput, "sess-1", "", map[string]any{})
}

func TestSQLiteLog_GetRecentEvents(t *testing.T) {
	log, err := NewSQLiteLog(Config{Path: ":memory:"}, debuglog.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	for i := 0; i < 5; i++ {
		log.LogEvent(context.Background(), models.EventUserInput, "sess-1", "", map[string]any{})
	}
	log.Flush()

	events, err := log.GetRecentEvents(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 recent events, got %d", len(events))
	}
}
