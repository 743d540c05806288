package activitylog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/models"
)

// writeRequest is one queued insert for the single writer goroutine.
// A request with a non-nil ack is a flush barrier: the writer closes
// it once every write queued before the barrier has been applied,
// without itself inserting a row.
type writeRequest struct {
	eventType      models.EventType
	sessionID      string
	modelSessionID string
	data           map[string]any
	ack            chan struct{}
}

// SQLiteLog is the durable Log implementation: a single background
// writer goroutine serializes inserts so concurrent LogEvent calls
// never contend on the same connection.
type SQLiteLog struct {
	db  *sql.DB
	log debuglog.Logger

	writes    chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// Config configures a SQLiteLog.
type Config struct {
	// Path is the sqlite file path, or ":memory:" for an ephemeral store.
	Path string
}

func (c Config) sanitize() Config {
	if c.Path == "" {
		c.Path = ":memory:"
	}
	return c
}

// NewSQLiteLog opens (creating if necessary) the activity_events table
// and starts the background writer goroutine.
func NewSQLiteLog(cfg Config, log debuglog.Logger) (*SQLiteLog, error) {
	cfg = cfg.sanitize()
	if log == nil {
		log = debuglog.NopLogger{}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open activity log database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline on a pure-Go sqlite connection

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			model_session_id TEXT,
			timestamp DATETIME NOT NULL,
			data TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create activity_events table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_events(session_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_events(event_type)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event_type index: %w", err)
	}

	l := &SQLiteLog{
		db:     db,
		log:    log,
		writes: make(chan writeRequest, 256),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

func (l *SQLiteLog) writeLoop() {
	defer close(l.done)
	for req := range l.writes {
		if req.ack != nil {
			close(req.ack)
			continue
		}
		payload, err := json.Marshal(req.data)
		if err != nil {
			l.log.Warn(context.Background(), "activity event encode failed", "error", err)
			continue
		}
		_, err = l.db.Exec(
			`INSERT INTO activity_events (event_type, session_id, model_session_id, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
			string(req.eventType), req.sessionID, req.modelSessionID, time.Now(), string(payload),
		)
		if err != nil {
			l.log.Warn(context.Background(), "activity event write failed", "error", err)
		}
	}
}

// LogEvent enqueues an insert and returns immediately; failures are
// swallowed and logged, never surfaced to the caller.
func (l *SQLiteLog) LogEvent(ctx context.Context, eventType models.EventType, sessionID, modelSessionID string, data map[string]any) {
	if l.closed.Load() {
		return
	}
	req := writeRequest{eventType: eventType, sessionID: sessionID, modelSessionID: modelSessionID, data: data}

	// Close() may race a concurrent send onto the now-closed writes
	// channel; recovering keeps Close idempotent-and-safe rather than
	// requiring every caller to serialize against shutdown.
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn(ctx, "activity log closed during write", "event_type", string(eventType))
		}
	}()
	select {
	case l.writes <- req:
	default:
		// Writer backlog is full; drop and report rather than block the
		// caller, matching the "never blocks ... beyond what the backing
		// store requires" rationale.
		l.log.Warn(ctx, "activity log writer backlog full, dropping event", "event_type", string(eventType))
	}
}

// Flush blocks until every LogEvent call queued before it has been
// applied to the database. Not part of the Log interface; it exists
// for callers (and tests) that need read-your-writes consistency
// against the asynchronous writer.
func (l *SQLiteLog) Flush() {
	if l.closed.Load() {
		return
	}
	ack := make(chan struct{})
	defer func() { recover() }()
	l.writes <- writeRequest{ack: ack}
	<-ack
}

func (l *SQLiteLog) GetEvents(ctx context.Context, filter Filter) ([]models.ActivityEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultGetEventsLimit
	}

	query := `SELECT id, event_type, session_id, model_session_id, timestamp, data FROM activity_events WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (l *SQLiteLog) GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error) {
	return l.GetEvents(ctx, Filter{Limit: n})
}

func scanEvents(rows *sql.Rows) ([]models.ActivityEvent, error) {
	var events []models.ActivityEvent
	for rows.Next() {
		var (
			e         models.ActivityEvent
			modelID   sql.NullString
			dataBlob  string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.SessionID, &modelID, &e.Timestamp, &dataBlob); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.ModelSessionID = modelID.String
		if err := json.Unmarshal([]byte(dataBlob), &e.Data); err != nil {
			return nil, fmt.Errorf("decode activity event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close is idempotent; further LogEvent calls become no-ops since the
// writer channel is drained and closed.
func (l *SQLiteLog) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.writes)
		<-l.done
		err = l.db.Close()
	})
	return err
}

var _ Log = (*SQLiteLog)(nil)
