package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/chatlog"
)

const titleMaxLen = 100

// ChatStore loads persisted chat records.
type ChatStore interface {
	GetChat(ctx context.Context, chatID, userID string) (*chatlog.Chat, error)
}

// ThreadCreator creates remote threads on the assistant service.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (assistant.Thread, error)
}

// Session maps one local chat to its remote thread. The thread is created
// lazily on the first submission; afterwards the cached id is immutable
// and every Ensure takes the load-existing path.
type Session struct {
	chatID   string
	userID   string
	threadID string

	chats   ChatStore
	threads ThreadCreator
	logger  *slog.Logger
}

func New(chatID, userID, threadID string, chats ChatStore, threads ThreadCreator, logger *slog.Logger) *Session {
	return &Session{
		chatID:   chatID,
		userID:   userID,
		threadID: threadID,
		chats:    chats,
		threads:  threads,
		logger:   logger,
	}
}

// ThreadID returns the cached remote thread id, empty before the first
// successful Ensure on a brand-new chat.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Ensure returns the chat record with the pending user message appended,
// creating the remote thread if this chat has never had one. A missing
// persisted record on the load path is fatal to the submission; the caller
// must abort rather than proceed with an empty thread.
func (s *Session) Ensure(ctx context.Context, pending chatlog.Message) (*chatlog.Chat, error) {
	if s.threadID == "" {
		thread, err := s.threads.CreateThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		s.threadID = thread.ID
		s.logger.Info("thread created", "chat_id", s.chatID, "thread_id", thread.ID)

		return &chatlog.Chat{
			ID:        s.chatID,
			UserID:    s.userID,
			Title:     title(pending.Text),
			CreatedAt: time.Now().UTC(),
			Path:      "/chat/" + s.chatID,
			ThreadID:  s.threadID,
			Messages:  []chatlog.Message{pending},
		}, nil
	}

	chat, err := s.chats.GetChat(ctx, s.chatID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", s.chatID, err)
	}

	// Persisted record wins: the row's thread id was set exactly once at
	// creation and never changes.
	if chat.ThreadID != "" {
		s.threadID = chat.ThreadID
	}
	chat.Messages = append(chat.Messages, pending)
	return chat, nil
}

// title keeps the first titleMaxLen characters of the message. Counting
// runes, not bytes: a byte slice can split a multi-byte character and the
// database rejects the invalid sequence.
func title(text string) string {
	runes := []rune(text)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen])
	}
	return text
}
