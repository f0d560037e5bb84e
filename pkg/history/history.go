// Package history is the append-only audit trail of the engine: every
// inbound event and outbound attempt is recorded, and the lifecycle of
// multi-turn prompts is journaled so half-collected conversations survive a
// restart. Entries are never mutated or deleted here; retention is the
// embedding application's concern.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Direction of a recorded interaction.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionSystem   Direction = "system"
)

// Entry is one recorded interaction.
type Entry struct {
	ID          int64
	Timestamp   time.Time
	Direction   Direction
	ChatID      string
	UpdateID    int64 // zero for outgoing/system rows
	MessageType string
	Content     map[string]interface{}
}

// PromptRecord snapshots an in-progress ask conversation.
type PromptRecord struct {
	Action      string   `json:"action"`
	Command     string   `json:"command"`
	Arguments   []string `json:"arguments"`
	PromptIndex int      `json:"current_prompt_index"`
}

// Recorder is what the workers log through. The sqlite Manager is the
// production implementation; tests use MemoryRecorder.
type Recorder interface {
	LogInteraction(direction Direction, chatID, messageType string, content map[string]interface{}, updateID int64) error
	LogPrompt(chatID string, record PromptRecord) error
	ActivePrompt(chatID string) (*PromptRecord, error)
	ActivePrompts() (map[string]PromptRecord, error)
	ResolvePrompt(chatID string) error
}

// Manager is the sqlite-backed Recorder.
type Manager struct {
	db *sql.DB
}

// Open creates (or reuses) the history database at dbPath and initializes
// the schema.
func Open(dbPath string) (*Manager, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return m, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		direction TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		update_id INTEGER,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		is_prompt INTEGER DEFAULT 0,
		prompt_status TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_chat ON interactions(chat_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_interactions_prompt ON interactions(is_prompt, prompt_status);
	`
	_, err := m.db.Exec(schema)
	return err
}

// LogInteraction appends one interaction row. updateID is stored only when
// positive (outgoing and system rows have none).
func (m *Manager) LogInteraction(direction Direction, chatID, messageType string, content map[string]interface{}, updateID int64) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal history content: %w", err)
	}

	var update interface{}
	if updateID > 0 {
		update = updateID
	}
	_, err = m.db.Exec(`
		INSERT INTO interactions (timestamp, direction, chat_id, update_id, message_type, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(direction), chatID, update, messageType, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// LogPrompt journals the current state of an ask conversation. Any previous
// active prompt row for the chat is superseded, keeping at most one active
// prompt per chat.
func (m *Manager) LogPrompt(chatID string, record PromptRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal prompt record: %w", err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin prompt tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE interactions SET prompt_status = 'superseded'
		WHERE chat_id = ? AND is_prompt = 1 AND prompt_status = 'active'`, chatID); err != nil {
		return fmt.Errorf("supersede prompt: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO interactions (timestamp, direction, chat_id, message_type, content, is_prompt, prompt_status)
		VALUES (?, 'system', ?, 'prompt_start', ?, 1, 'active')`,
		time.Now().UTC().Format(time.RFC3339Nano), chatID, string(payload)); err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return tx.Commit()
}

// ActivePrompt returns the latest unresolved prompt for a chat, or nil.
func (m *Manager) ActivePrompt(chatID string) (*PromptRecord, error) {
	row := m.db.QueryRow(`
		SELECT content FROM interactions
		WHERE chat_id = ? AND is_prompt = 1 AND prompt_status = 'active'
		ORDER BY id DESC LIMIT 1`, chatID)

	var content string
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query active prompt: %w", err)
	}

	var record PromptRecord
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return nil, fmt.Errorf("decode prompt record: %w", err)
	}
	return &record, nil
}

// ActivePrompts returns the latest unresolved prompt per chat. Used at
// startup to resume conversations interrupted by a restart.
func (m *Manager) ActivePrompts() (map[string]PromptRecord, error) {
	rows, err := m.db.Query(`
		SELECT chat_id, content FROM interactions
		WHERE is_prompt = 1 AND prompt_status = 'active'
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active prompts: %w", err)
	}
	defer rows.Close()

	result := make(map[string]PromptRecord)
	for rows.Next() {
		var chatID, content string
		if err := rows.Scan(&chatID, &content); err != nil {
			return nil, fmt.Errorf("scan active prompt: %w", err)
		}
		var record PromptRecord
		if err := json.Unmarshal([]byte(content), &record); err != nil {
			continue
		}
		result[chatID] = record // later rows win, keeping the newest per chat
	}
	return result, rows.Err()
}

// ResolvePrompt marks every active prompt for the chat as resolved.
func (m *Manager) ResolvePrompt(chatID string) error {
	_, err := m.db.Exec(`
		UPDATE interactions SET prompt_status = 'resolved'
		WHERE chat_id = ? AND is_prompt = 1 AND prompt_status = 'active'`, chatID)
	if err != nil {
		return fmt.Errorf("resolve prompt: %w", err)
	}
	return nil
}

// Entries returns up to limit interaction rows for a chat, oldest first.
// Prompt journal rows are included; callers filter by MessageType if needed.
func (m *Manager) Entries(chatID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.db.Query(`
		SELECT id, timestamp, direction, chat_id, COALESCE(update_id, 0), message_type, content
		FROM interactions WHERE chat_id = ?
		ORDER BY id ASC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, direction, content string
		if err := rows.Scan(&e.ID, &ts, &direction, &e.ChatID, &e.UpdateID, &e.MessageType, &content); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Direction = Direction(direction)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
			e.Content = map[string]interface{}{"raw": content}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
