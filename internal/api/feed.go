package api

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/chatlog"
)

// chatFeed streams live message-store updates for one chat over a
// websocket so a UI can render streaming assistant output as it arrives.
func (s *Server) chatFeed(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	actor := actorID(r.Context())

	// Reuse an existing controller; otherwise require a persisted, owned
	// chat before creating one. A GET with a made-up chat id must not
	// mint a controller that the registry retains forever.
	ctrl, ok := s.registry.Peek(chatID, actor)
	if !ok {
		if _, err := s.chats.GetChat(r.Context(), chatID, actor); err != nil {
			s.writeChatError(w, err)
			return
		}
		var err error
		ctrl, err = s.registry.Controller(r.Context(), chatID, actor)
		if err != nil {
			s.writeChatError(w, err)
			return
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "chat_id", chatID, "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "feed closed")

	// Buffered so a slow client drops updates instead of blocking the
	// submission controller's upserts.
	updates := make(chan chatlog.Message, 64)
	unsubscribe := ctrl.Log().Subscribe(func(msg chatlog.Message) {
		select {
		case updates <- msg:
		default:
		}
	})
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-updates:
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("marshal feed message", "error", err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
