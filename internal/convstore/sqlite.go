package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/obra/lace-sub007/internal/models"
)

// SQLiteStore is the durable Store implementation. Unlike
// activitylog.SQLiteLog, writes here are synchronous: SaveMessage
// returns only after the row is durable, so there is no background
// writer goroutine to queue through.
type SQLiteStore struct {
	db *sql.DB
}

// Config configures a SQLiteStore.
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

// NewSQLiteStore opens (creating if necessary) the messages and
// handoffs tables.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	cfg = cfg.sanitize()

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			generation TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_results TEXT,
			context_size INTEGER,
			timestamp DATETIME NOT NULL,
			seq INTEGER
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session index: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_generation ON messages(session_id, generation)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create generation index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS handoffs (
			session_id TEXT NOT NULL,
			generation TEXT NOT NULL,
			compressed_context TEXT NOT NULL,
			reason TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create handoffs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("convstore: message ID must be set")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}

	var seq int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, msg.SessionID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("compute sequence number: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, generation, role, content, tool_calls, tool_results, context_size, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Generation, string(msg.Role), msg.Content, string(toolCalls), string(toolResults), msg.ContextSize, msg.Timestamp, seq)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := `SELECT id, session_id, generation, role, content, tool_calls, tool_results, context_size, timestamp FROM messages WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation history: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages) // query is newest-first for the LIMIT; caller wants oldest-first
	return messages, nil
}

func (s *SQLiteStore) GetGenerationHistory(ctx context.Context, sessionID, generation string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, generation, role, content, tool_calls, tool_results, context_size, timestamp
		FROM messages WHERE session_id = ? AND generation = ? ORDER BY seq ASC
	`, sessionID, generation)
	if err != nil {
		return nil, fmt.Errorf("query generation history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) SearchConversations(ctx context.Context, sessionID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	like := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, generation, role, content, tool_calls, tool_results, context_size, timestamp
		FROM messages WHERE session_id = ? AND LOWER(content) LIKE ? ORDER BY seq DESC LIMIT ?
	`, sessionID, like, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) SaveHandoff(ctx context.Context, record HandoffRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handoffs (session_id, generation, compressed_context, reason, timestamp) VALUES (?, ?, ?, ?, ?)
	`, record.SessionID, record.Generation, record.CompressedContext, record.Reason, record.Timestamp)
	if err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var (
			m                        models.Message
			role                     string
			toolCallsBlob            string
			toolResultsBlob          string
			contextSize              sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Generation, &role, &m.Content, &toolCallsBlob, &toolResultsBlob, &contextSize, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		m.ContextSize = int(contextSize.Int64)
		if toolCallsBlob != "" && toolCallsBlob != "null" {
			if err := json.Unmarshal([]byte(toolCallsBlob), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if toolResultsBlob != "" && toolResultsBlob != "null" {
			if err := json.Unmarshal([]byte(toolResultsBlob), &m.ToolResults); err != nil {
				return nil, fmt.Errorf("decode tool results: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

var _ Store = (*SQLiteStore)(nil)
