package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/attach"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/submit"
)

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	actor := actorID(r.Context())
	chat, err := s.chats.GetChat(r.Context(), chatID, actor)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	// Merge in live streaming state, if this chat has an active controller:
	// a run in flight (or one that errored before persisting) has messages
	// the stored record does not.
	if ctrl, ok := s.registry.Peek(chatID, actor); ok {
		chat.Messages = ctrl.Log().Merge(chat.Messages)
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListChats(r.Context(), actorID(r.Context()))
	if err != nil {
		s.logger.Error("list chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	actor := actorID(r.Context())
	if err := s.chats.DeleteChat(r.Context(), chatID, actor); err != nil {
		s.writeChatError(w, err)
		return
	}
	s.registry.Remove(chatID, actor)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) clearChats(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r.Context())
	if err := s.chats.ClearChats(r.Context(), actor); err != nil {
		s.logger.Error("clear chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "clear chats")
		return
	}
	s.registry.RemoveUser(actor)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// submitMessage runs one submission on the chat. The body is either JSON
// {"input": "..."} or multipart form data with an input field and files.
func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	actor := actorID(r.Context())

	input, files, err := parseSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl, err := s.registry.Controller(r.Context(), chatID, actor)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	chat, err := ctrl.Submit(r.Context(), input, files)
	if err != nil {
		switch {
		case errors.Is(err, submit.ErrEmptySubmission):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, submit.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "chat not found")
		case errors.Is(err, store.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		default:
			s.logger.Error("submission failed", "chat_id", chatID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		s.logger.Error("chat store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseSubmission(r *http.Request) (string, []attach.File, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return "", nil, errors.New("invalid multipart body")
		}
		input := r.FormValue("input")

		var files []attach.File
		if r.MultipartForm != nil {
			for _, hdr := range r.MultipartForm.File["files"] {
				f, err := hdr.Open()
				if err != nil {
					return "", nil, errors.New("unreadable file part")
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return "", nil, errors.New("unreadable file part")
				}
				contentType := hdr.Header.Get("Content-Type")
				if contentType == "" {
					contentType = blob.ContentTypeFor(hdr.Filename)
				}
				files = append(files, attach.File{
					Name:        hdr.Filename,
					ContentType: contentType,
					Data:        data,
				})
			}
		}
		return input, files, nil
	}

	var body struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", nil, errors.New("invalid JSON body")
	}
	return body.Input, nil, nil
}
