package convstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/obra/lace-sub007/internal/models"
)

// MemoryStore is an in-memory Store: a per-session slice of messages
// appended under a single mutex, with no durability guarantee beyond
// process lifetime.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string][]models.Message
	handoffs  map[string][]HandoffRecord
	nextID    int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]models.Message),
		handoffs: make(map[string][]HandoffRecord),
	}
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		s.nextID++
		msg.ID = "msg-" + strconv.FormatInt(s.nextID, 10)
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

// GetConversationHistory returns the most recent limit messages for a
// session, oldest-first.
func (s *MemoryStore) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.Message, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]models.Message, limit)
	copy(out, all[start:])
	return out, nil
}

func (s *MemoryStore) GetGenerationHistory(ctx context.Context, sessionID, generation string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages[sessionID] {
		if m.Generation == generation {
			out = append(out, m)
		}
	}
	return out, nil
}

// SearchConversations does a case-insensitive substring match over
// message content, most-recent-first, capped at limit.
func (s *MemoryStore) SearchConversations(ctx context.Context, sessionID, query string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	needle := strings.ToLower(query)

	var matched []models.Message
	for _, m := range s.messages[sessionID] {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) SaveHandoff(ctx context.Context, record HandoffRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[record.SessionID] = append(s.handoffs[record.SessionID], record)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

// DefaultSearchLimit bounds SearchConversations when the caller passes
// no limit.
const DefaultSearchLimit = 100
