// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			phone               TEXT NOT NULL DEFAULT '',
			avatar              TEXT NOT NULL DEFAULT '',
			last_message        TEXT NOT NULL DEFAULT '',
			last_message_at     DATETIME,
			unread_count        INTEGER NOT NULL DEFAULT 0,
			status              TEXT NOT NULL DEFAULT 'active',
			assigned_agent_id   TEXT NOT NULL DEFAULT '',
			assigned_agent_name TEXT NOT NULL DEFAULT '',
			department          TEXT NOT NULL DEFAULT '',
			current_node_id     TEXT NOT NULL DEFAULT '',
			collected_answers   TEXT NOT NULL DEFAULT '{}',
			created_at          DATETIME NOT NULL,
			updated_at          DATETIME NOT NULL,

			CHECK (status IN ('active', 'archived', 'blocked'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at
			ON conversations(last_message_at);

		CREATE TABLE IF NOT EXISTS messages (
			id                  TEXT NOT NULL,
			conversation_id     TEXT NOT NULL,
			text                TEXT NOT NULL,
			sender              TEXT NOT NULL,
			timestamp           DATETIME NOT NULL,
			status              TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			media_url           TEXT NOT NULL DEFAULT '',

			PRIMARY KEY (conversation_id, id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (sender IN ('user', 'agent', 'bot'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_messages_provider_id
			ON messages(provider_message_id) WHERE provider_message_id != '';
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertConversation creates or field-merges a conversation record.
// The read-modify-write runs inside an immediate transaction so that
// concurrent upserts to the same id serialize instead of losing fields.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, id string, patch *ConversationPatch) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	conv, err := scanConversation(tx.QueryRowContext(ctx, conversationSelect+" WHERE id = ?", id))
	switch {
	case err == ErrNotFound:
		conv = &Conversation{
			ID:               id,
			UnreadCount:      0,
			Status:           StatusActive,
			CollectedAnswers: map[string]string{},
			CreatedAt:        now,
		}
		applyPatch(conv, patch, now)
		answers, jsonErr := json.Marshal(conv.CollectedAnswers)
		if jsonErr != nil {
			return nil, fmt.Errorf("encoding collected answers: %w", jsonErr)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (
				id, name, phone, avatar, last_message, last_message_at,
				unread_count, status, assigned_agent_id, assigned_agent_name,
				department, current_node_id, collected_answers, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.Name, conv.Phone, conv.Avatar, conv.LastMessage,
			nullTime(conv.LastMessageAt), conv.UnreadCount, conv.Status,
			conv.AssignedAgentID, conv.AssignedAgentName, conv.Department,
			conv.CurrentNodeID, string(answers), conv.CreatedAt, conv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting conversation: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up conversation: %w", err)
	default:
		applyPatch(conv, patch, now)
		set, args := patchAssignments(patch, now)
		if len(set) > 0 {
			args = append(args, id)
			_, err = tx.ExecContext(ctx,
				"UPDATE conversations SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
			if err != nil {
				return nil, fmt.Errorf("updating conversation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing upsert: %w", err)
	}
	return conv, nil
}

// patchAssignments builds the SET clause for the fields present in the patch.
// Only present fields are written, so concurrent upserts merge per-field.
func patchAssignments(patch *ConversationPatch, now time.Time) ([]string, []any) {
	var set []string
	var args []any
	if patch == nil {
		return set, args
	}
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Avatar != nil {
		add("avatar", *patch.Avatar)
	}
	if patch.LastMessage != nil {
		add("last_message", *patch.LastMessage)
	}
	if patch.LastMessageAt != nil {
		add("last_message_at", *patch.LastMessageAt)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.AssignedAgentID != nil {
		add("assigned_agent_id", *patch.AssignedAgentID)
	}
	if patch.AssignedAgentName != nil {
		add("assigned_agent_name", *patch.AssignedAgentName)
	}
	if patch.Department != nil {
		add("department", *patch.Department)
	}
	if patch.CurrentNodeID != nil {
		add("current_node_id", *patch.CurrentNodeID)
	}
	if patch.CollectedAnswers != nil {
		answers, err := json.Marshal(patch.CollectedAnswers)
		if err == nil {
			add("collected_answers", string(answers))
		}
	}
	if patch.IncrementUnread {
		set = append(set, "unread_count = unread_count + 1")
	}
	if len(set) > 0 {
		add("updated_at", now)
	}
	return set, args
}

const conversationSelect = `
	SELECT id, name, phone, avatar, last_message, last_message_at,
	       unread_count, status, assigned_agent_id, assigned_agent_name,
	       department, current_node_id, collected_answers, created_at, updated_at
	FROM conversations`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var lastMessageAt sql.NullTime
	var answers string
	err := row.Scan(
		&conv.ID, &conv.Name, &conv.Phone, &conv.Avatar, &conv.LastMessage,
		&lastMessageAt, &conv.UnreadCount, &conv.Status, &conv.AssignedAgentID,
		&conv.AssignedAgentName, &conv.Department, &conv.CurrentNodeID,
		&answers, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		conv.LastMessageAt = lastMessageAt.Time
	}
	conv.CollectedAnswers = map[string]string{}
	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &conv.CollectedAnswers); err != nil {
			return nil, fmt.Errorf("decoding collected answers: %w", err)
		}
	}
	return &conv, nil
}

// GetConversation returns one conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, conversationSelect+" WHERE id = ?", id))
}

// ListConversations returns all conversations, most recent activity first
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		conversationSelect+" ORDER BY last_message_at DESC, updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// MarkRead zeroes the unread counter. Missing conversations are a no-op.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}
	return nil
}

// AppendMessage inserts the message and refreshes the conversation summary
// in a single transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, text, sender, timestamp, status,
			provider_message_id, media_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Text, msg.Sender, msg.Timestamp,
		msg.Status, msg.ProviderMessageID, msg.MediaURL,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`,
		msg.Text, msg.Timestamp, time.Now().UTC(), msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages oldest-first. A positive
// limit caps the result to the most recent entries without reordering.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, text, sender, timestamp, status,
		       provider_message_id, media_url
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp, rowid`
	args := []any{conversationID}

	if limit > 0 {
		// Take the newest rows, then restore oldest-first order
		query = `
			SELECT id, conversation_id, text, sender, timestamp, status,
			       provider_message_id, media_url
			FROM (
				SELECT rowid AS rid, * FROM messages WHERE conversation_id = ?
				ORDER BY timestamp DESC, rowid DESC LIMIT ?
			) ORDER BY timestamp, rid`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Text, &m.Sender,
			&m.Timestamp, &m.Status, &m.ProviderMessageID, &m.MediaURL); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets the delivery status of one message
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, conversationID, messageID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = ? WHERE conversation_id = ? AND id = ?",
		status, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMessageStatusByProviderID correlates a delivery receipt by the
// transport-side message id.
func (s *SQLiteStore) UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID, status string) error {
	if providerMessageID == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = ? WHERE provider_message_id = ?",
		status, providerMessageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
