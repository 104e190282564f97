package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/submit"
)

// ChatStore is the persistence surface the API reads and manages.
type ChatStore interface {
	GetChat(ctx context.Context, chatID, userID string) (*chatlog.Chat, error)
	ListChats(ctx context.Context, userID string) ([]chatlog.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	ClearChats(ctx context.Context, userID string) error
}

// BlobUploader stores raw file bytes and returns blob metadata.
type BlobUploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (blob.Object, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	chats    ChatStore
	blobs    BlobUploader
	verifier *auth.Verifier
	registry *submit.Registry
	logger   *slog.Logger
}

func NewServer(port int, chats ChatStore, blobs BlobUploader, verifier *auth.Verifier, registry *submit.Registry, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		chats:    chats,
		blobs:    blobs,
		verifier: verifier,
		registry: registry,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/save-files", s.saveFiles)
		r.Get("/api/chats", s.listChats)
		r.Delete("/api/chats", s.clearChats)
		r.Get("/api/chats/{chatID}", s.getChat)
		r.Delete("/api/chats/{chatID}", s.deleteChat)
		r.Post("/api/chats/{chatID}/messages", s.submitMessage)
		r.Get("/api/chats/{chatID}/ws", s.chatFeed)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
