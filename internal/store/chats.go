package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxChats caps the number of retained chats. Creating a new chat evicts the
// least recently updated ones beyond this cap.
const maxChats = 10

// Chat is one conversation thread.
type Chat struct {
	// ID is the chat identifier handed back to the caller in the first
	// stream event.
	ID string `json:"id"`
	// Title is the display title, auto-generated from the first exchange.
	Title string `json:"title"`
	// CreatedAt is when the chat was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every persisted message.
	UpdatedAt time.Time `json:"updated_at"`
}

// Chats returns the retained chats, most recently updated first.
func (s *Store) Chats(ctx context.Context) ([]Chat, error) {
	const q = `SELECT id, title, created_at, updated_at FROM chats
		ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, maxChats)
	if err != nil {
		return nil, fmt.Errorf("store: chats: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var (
			c       Chat
			created int64
			updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: chats scan: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0)
		c.UpdatedAt = time.Unix(updated, 0)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chats rows: %w", err)
	}
	return out, nil
}

// CreateChat creates a new chat, first evicting the oldest chats beyond the
// retention cap so the table never grows past maxChats.
func (s *Store) CreateChat(ctx context.Context, title string) (Chat, error) {
	if title == "" {
		title = "New Chat"
	}

	const evict = `DELETE FROM chats WHERE id IN (
		SELECT id FROM chats ORDER BY updated_at DESC LIMIT -1 OFFSET ?
	)`
	if _, err := s.db.ExecContext(ctx, evict, maxChats-1); err != nil {
		return Chat{}, fmt.Errorf("store: evict chats: %w", err)
	}

	now := time.Now()
	c := Chat{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	const q = `INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.Title, now.Unix(), now.Unix()); err != nil {
		return Chat{}, fmt.Errorf("store: create chat: %w", err)
	}
	return c, nil
}

// UpdateChatTitle sets the chat title and bumps updated_at.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	const q = `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, title, time.Now().Unix(), chatID); err != nil {
		return fmt.Errorf("store: update chat title: %w", err)
	}
	return nil
}

// DeleteChat removes a chat and all of its messages.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("store: delete chat messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("store: delete chat: %w", err)
	}
	return nil
}
