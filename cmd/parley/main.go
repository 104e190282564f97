package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/attach"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/submit"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("parley starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Assistant client
	if cfg.AssistantAPIKey == "" || cfg.AssistantID == "" {
		slog.Error("ASSISTANT_API_KEY and ASSISTANT_ID are required")
		os.Exit(1)
	}
	svc := assistant.NewClient(cfg.AssistantBaseURL, cfg.AssistantAPIKey)
	slog.Info("assistant client ready", "assistant_id", cfg.AssistantID)

	// Blob store
	if cfg.BlobBaseURL == "" {
		slog.Error("BLOB_BASE_URL is required")
		os.Exit(1)
	}
	blobs := blob.NewClient(cfg.BlobBaseURL, cfg.BlobToken)

	// NATS (optional — parley works without it, just no lifecycle events)
	var events *bus.Client
	if cfg.NatsURL != "" {
		events, err = bus.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer events.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without lifecycle events")
	}

	// Auth
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		slog.Error("JWT_SECRET is required", "error", err)
		os.Exit(1)
	}

	// One controller per chat, built on demand.
	pipeline := attach.NewPipeline(blobs, svc, slog.Default())
	registry := submit.NewRegistry(db, func(chatID, userID, threadID string) *submit.Controller {
		log := chatlog.NewLog()
		sess := session.New(chatID, userID, threadID, db, svc, slog.Default())
		receiver := stream.NewReceiver(log, svc, slog.Default())
		return submit.NewController(chatID, userID, cfg.AssistantID, log, pipeline, sess, svc, receiver, db, events, slog.Default())
	})

	// HTTP API
	srv := api.NewServer(cfg.Port, db, blobs, verifier, registry, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if events != nil {
		if err := events.Publish(bus.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("parley ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("parley stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
