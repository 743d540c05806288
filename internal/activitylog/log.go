// Package activitylog implements a single-writer, multi-reader
// append-only event store, with an in-memory implementation and a
// durable database/sql + modernc.org/sqlite one.
package activitylog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/models"
)

// DefaultGetEventsLimit is the default cap GetEvents applies when the
// caller passes no limit.
const DefaultGetEventsLimit = 1000

// Filter selects which events GetEvents returns.
type Filter struct {
	SessionID string
	EventType models.EventType
	Since     time.Time
	Limit     int
}

// Log is an append-only activity event store. LogEvent never returns
// an error and never blocks the caller on slow I/O beyond what the
// backing store requires: failures are swallowed internally and
// reported to a DebugLog, never propagated, since activity logging is
// observability, not a hard dependency.
type Log interface {
	LogEvent(ctx context.Context, eventType models.EventType, sessionID, modelSessionID string, data map[string]any)
	GetEvents(ctx context.Context, filter Filter) ([]models.ActivityEvent, error)
	GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error)
	Close() error
}

// MemoryLog is an in-memory Log: a bounded slice of events, evicting
// the oldest entry once maxSize is reached.
type MemoryLog struct {
	mu      sync.RWMutex
	log     debuglog.Logger
	events  []models.ActivityEvent
	nextID  int64
	maxSize int
	closed  bool
}

// NewMemoryLog creates a MemoryLog. maxSize <= 0 defaults to 10,000
// entries.
func NewMemoryLog(maxSize int, log debuglog.Logger) *MemoryLog {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if log == nil {
		log = debuglog.NopLogger{}
	}
	return &MemoryLog{maxSize: maxSize, log: log}
}

func (m *MemoryLog) LogEvent(ctx context.Context, eventType models.EventType, sessionID, modelSessionID string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.nextID++
	event := models.ActivityEvent{
		ID:             m.nextID,
		EventType:      eventType,
		SessionID:      sessionID,
		ModelSessionID: modelSessionID,
		Timestamp:      time.Now(),
		Data:           data,
	}

	if len(m.events) >= m.maxSize {
		m.events = m.events[1:]
	}
	m.events = append(m.events, event)
}

func (m *MemoryLog) GetEvents(ctx context.Context, filter Filter) ([]models.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultGetEventsLimit
	}

	var matched []models.ActivityEvent
	for _, e := range m.events {
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		matched = append(matched, e)
	}

	// Descending by id is the default read order.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryLog) GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error) {
	return m.GetEvents(ctx, Filter{Limit: n})
}

func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Log = (*MemoryLog)(nil)
