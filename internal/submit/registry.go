package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/store"
)

// ChatLoader discovers the persisted thread id for a chat, if any.
type ChatLoader interface {
	GetChat(ctx context.Context, chatID, userID string) (*chatlog.Chat, error)
}

// Factory builds a controller for one chat, wired with the service's real
// collaborators. threadID is empty for a chat with no persisted record.
type Factory func(chatID, userID, threadID string) *Controller

// Registry hands out one controller per chat. Controllers for different
// chats are independent: disjoint message logs, thread state and running
// gates.
type Registry struct {
	chats   ChatLoader
	factory Factory

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewRegistry(chats ChatLoader, factory Factory) *Registry {
	return &Registry{
		chats:       chats,
		factory:     factory,
		controllers: make(map[string]*Controller),
	}
}

// Peek returns the chat's controller if one already exists, without
// creating it. Read paths use this to merge live streaming state into a
// persisted chat.
func (r *Registry) Peek(chatID, userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[chatID+"/"+userID]
	return c, ok
}

// Remove drops the chat's controller and clears its live message log.
// Called when the chat record is deleted so stale streaming state cannot
// leak into a future chat with the same id.
func (r *Registry) Remove(chatID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := chatID + "/" + userID
	if c, ok := r.controllers[key]; ok {
		c.Log().RemoveAll()
		delete(r.controllers, key)
	}
}

// RemoveUser drops every controller owned by the user.
func (r *Registry) RemoveUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	suffix := "/" + userID
	for key, c := range r.controllers {
		if strings.HasSuffix(key, suffix) {
			c.Log().RemoveAll()
			delete(r.controllers, key)
		}
	}
}

// Controller returns the chat's controller, creating it on first use. For
// a chat with a persisted record the controller starts from the stored
// thread id; ownership failures propagate.
func (r *Registry) Controller(ctx context.Context, chatID, userID string) (*Controller, error) {
	key := chatID + "/" + userID

	r.mu.Lock()
	if c, ok := r.controllers[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	threadID := ""
	chat, err := r.chats.GetChat(ctx, chatID, userID)
	switch {
	case err == nil:
		threadID = chat.ThreadID
	case errors.Is(err, store.ErrNotFound):
		// New chat; the session will create the thread lazily.
	default:
		return nil, fmt.Errorf("load chat %s: %w", chatID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[key]; ok {
		return c, nil
	}
	c := r.factory(chatID, userID, threadID)
	r.controllers[key] = c
	return c, nil
}
