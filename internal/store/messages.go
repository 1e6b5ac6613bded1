package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single persisted turn in a chat.
type Message struct {
	// ID is the message identifier.
	ID string `json:"id"`
	// ChatID is the owning chat.
	ChatID string `json:"chat_id"`
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the message text. Assistant turns may begin with a
	// wrapped <think> block when reasoning tokens were produced.
	Content string `json:"content"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Messages returns all messages for a chat, oldest first, so they can be
// handed to the provider as conversation history directly.
func (s *Store) Messages(ctx context.Context, chatID string) ([]Message, error) {
	const q = `SELECT id, chat_id, role, content, created_at FROM messages
		WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, q, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("store: messages scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages rows: %w", err)
	}
	return out, nil
}

// MessageCount returns the number of messages persisted for a chat.
// The relay uses it to decide whether the title side effect should fire.
func (s *Store) MessageCount(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: message count: %w", err)
	}
	return n, nil
}

// AddMessage persists a message and bumps the owning chat's updated_at.
func (s *Store) AddMessage(ctx context.Context, chatID string, role Role, content string) (Message, error) {
	now := time.Now()
	m := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	const q = `INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, m.ID, m.ChatID, string(m.Role), m.Content, now.Unix()); err != nil {
		return Message{}, fmt.Errorf("store: add message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, now.Unix(), chatID); err != nil {
		return Message{}, fmt.Errorf("store: touch chat: %w", err)
	}
	return m, nil
}
