package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parleyhq/parley/internal/chatlog"
)

// GetChat loads the full chat record for (chatID, userID). A chat owned by
// a different user yields ErrUnauthorized; a missing chat yields
// ErrNotFound. The two are deliberately distinct error values.
func (s *Store) GetChat(ctx context.Context, chatID, userID string) (*chatlog.Chat, error) {
	chat := &chatlog.Chat{ID: chatID}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, title, created_at, path, thread_id
		FROM chats WHERE id = $1`,
		chatID,
	).Scan(&chat.UserID, &chat.Title, &chat.CreatedAt, &chat.Path, &chat.ThreadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}

	if chat.UserID != userID {
		return nil, ErrUnauthorized
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, text, citations, attachments
		FROM chat_messages WHERE chat_id = $1
		ORDER BY position`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg chatlog.Message
		var citations []byte
		var attachments string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Text, &citations, &attachments); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		// Malformed citation or attachment data on a historical message
		// degrades to none rather than failing the load.
		if len(citations) > 0 {
			_ = json.Unmarshal(citations, &msg.Citations)
		}
		msg.Attachments = chatlog.ParseAttachments(attachments)
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return chat, nil
}

// SaveChat upserts the chat row and rewrites its message list in one
// transaction. Concurrent saves of the same chat are last-write-wins; a
// thread id already present on the row is never overwritten.
func (s *Store) SaveChat(ctx context.Context, chat *chatlog.Chat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (id, user_id, title, created_at, path, thread_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			thread_id = CASE WHEN chats.thread_id = '' THEN excluded.thread_id ELSE chats.thread_id END`,
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.Path, chat.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chat.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for i, msg := range chat.Messages {
		var citations []byte
		if len(msg.Citations) > 0 {
			citations, err = json.Marshal(msg.Citations)
			if err != nil {
				return fmt.Errorf("marshal citations: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_messages (chat_id, id, position, role, text, citations, attachments)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			chat.ID, msg.ID, i, msg.Role, msg.Text, citations, chatlog.MarshalAttachments(msg.Attachments),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListChats returns the user's chats, newest first, without messages.
func (s *Store) ListChats(ctx context.Context, userID string) ([]chatlog.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, path, thread_id
		FROM chats WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []chatlog.Chat
	for rows.Next() {
		var c chatlog.Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.Path, &c.ThreadID); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

// DeleteChat removes one chat and its messages after an ownership check.
func (s *Store) DeleteChat(ctx context.Context, chatID, userID string) error {
	if _, err := s.GetChat(ctx, chatID, userID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearChats removes all chats owned by the user.
func (s *Store) ClearChats(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear chats: %w", err)
	}
	return nil
}
