package submit

import (
	"context"
	"errors"
	"testing"

	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/store"
)

func TestRegistryCachesPerChatAndUser(t *testing.T) {
	var built []string
	reg := NewRegistry(&fakeChats{err: store.ErrNotFound}, func(chatID, userID, threadID string) *Controller {
		built = append(built, chatID+"/"+userID+"/"+threadID)
		return &Controller{chatID: chatID, userID: userID}
	})

	a1, err := reg.Controller(context.Background(), "chat-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := reg.Controller(context.Background(), "chat-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Error("same chat and user must share a controller")
	}

	b, err := reg.Controller(context.Background(), "chat-2", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b == a1 {
		t.Error("different chats must get independent controllers")
	}
	if len(built) != 2 {
		t.Errorf("expected 2 factory calls, got %d", len(built))
	}
}

func TestRegistrySeedsThreadIDFromStore(t *testing.T) {
	chats := &fakeChats{chat: &chatlog.Chat{ID: "chat-1", UserID: "user-1", ThreadID: "thread-7"}}
	var gotThread string
	reg := NewRegistry(chats, func(chatID, userID, threadID string) *Controller {
		gotThread = threadID
		return &Controller{chatID: chatID, userID: userID}
	})

	if _, err := reg.Controller(context.Background(), "chat-1", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotThread != "thread-7" {
		t.Errorf("expected stored thread id, got %q", gotThread)
	}
}

func TestRegistryRemoveClearsLiveLog(t *testing.T) {
	reg := NewRegistry(&fakeChats{err: store.ErrNotFound}, func(chatID, userID, threadID string) *Controller {
		return &Controller{chatID: chatID, userID: userID, log: chatlog.NewLog()}
	})

	c1, err := reg.Controller(context.Background(), "chat-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c1.Log().Upsert(chatlog.Message{ID: "m1", Role: chatlog.RoleUser, Text: "hi"})

	reg.Remove("chat-1", "user-1")
	if c1.Log().Len() != 0 {
		t.Error("removed controller's log not cleared")
	}

	c2, err := reg.Controller(context.Background(), "chat-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c2 == c1 {
		t.Error("removed controller must not be reused")
	}
}

func TestRegistryRemoveUser(t *testing.T) {
	reg := NewRegistry(&fakeChats{err: store.ErrNotFound}, func(chatID, userID, threadID string) *Controller {
		return &Controller{chatID: chatID, userID: userID, log: chatlog.NewLog()}
	})

	a, _ := reg.Controller(context.Background(), "chat-1", "user-1")
	b, _ := reg.Controller(context.Background(), "chat-2", "user-1")
	other, _ := reg.Controller(context.Background(), "chat-3", "user-2")

	reg.RemoveUser("user-1")

	n1, _ := reg.Controller(context.Background(), "chat-1", "user-1")
	n2, _ := reg.Controller(context.Background(), "chat-2", "user-1")
	if n1 == a || n2 == b {
		t.Error("user's controllers not removed")
	}
	n3, _ := reg.Controller(context.Background(), "chat-3", "user-2")
	if n3 != other {
		t.Error("other user's controller must survive")
	}
}

func TestRegistryPropagatesOwnershipFailure(t *testing.T) {
	reg := NewRegistry(&fakeChats{err: store.ErrUnauthorized}, func(chatID, userID, threadID string) *Controller {
		t.Fatal("factory must not run on ownership failure")
		return nil
	})

	if _, err := reg.Controller(context.Background(), "chat-1", "user-2"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
