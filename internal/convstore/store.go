// Package convstore implements a per-session ordered transcript with
// bounded history retrieval, generation-scoped lookup, substring
// search, and handoff recording.
package convstore

import (
	"context"
	"time"

	"github.com/obra/lace-sub007/internal/models"
)

// HandoffRecord captures a context compression handoff, kept as its
// own type rather than overloading Message so a handoff's summary is
// queryable independently of the transcript.
type HandoffRecord struct {
	SessionID         string
	Generation        string
	CompressedContext string
	Reason            string
	Timestamp         time.Time
}

// Store persists and retrieves a session's message transcript.
type Store interface {
	SaveMessage(ctx context.Context, msg models.Message) error
	GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	GetGenerationHistory(ctx context.Context, sessionID, generation string) ([]models.Message, error)
	SearchConversations(ctx context.Context, sessionID, query string, limit int) ([]models.Message, error)
	SaveHandoff(ctx context.Context, record HandoffRecord) error
	Close() error
}
