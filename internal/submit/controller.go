// Package submit orchestrates one user submission end to end: optimistic
// message, attachment pipeline, thread session, assistant run, persistence.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/attach"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/stream"
)

// ErrEmptySubmission rejects a submission with neither text nor files.
var ErrEmptySubmission = errors.New("empty submission")

// ErrBusy rejects a submission while a previous one on the same chat is
// still running. The gate serializes; it does not queue.
var ErrBusy = errors.New("submission already running")

// defaultFileContent stands in for the message text when the user sends
// files with no prompt.
const defaultFileContent = "Please look at these files"

// AttachmentPipeline is the attachment upload/registration stage.
type AttachmentPipeline interface {
	Upload(ctx context.Context, target attach.Target, files []attach.File) ([]chatlog.AttachmentRef, error)
	Register(ctx context.Context, files []attach.File, refs []chatlog.AttachmentRef) ([]chatlog.AttachmentRef, error)
}

// ThreadSession maps the chat to its remote thread and chat record.
type ThreadSession interface {
	Ensure(ctx context.Context, pending chatlog.Message) (*chatlog.Chat, error)
}

// AssistantService is the subset of the assistant client the controller
// drives directly.
type AssistantService interface {
	CreateMessage(ctx context.Context, threadID string, req assistant.MessageRequest) error
	StreamRun(ctx context.Context, threadID, assistantID string) (*assistant.RunStream, error)
}

// ReplyReceiver drives a run's event stream into the message log.
type ReplyReceiver interface {
	Run(ctx context.Context, events stream.EventSource) (stream.Result, error)
}

// ChatSaver persists the full chat record.
type ChatSaver interface {
	SaveChat(ctx context.Context, chat *chatlog.Chat) error
}

// Controller owns submissions for exactly one chat. Submissions across
// different chats run concurrently on independent controllers; within one
// chat the running gate enforces single-flight execution.
type Controller struct {
	chatID      string
	userID      string
	assistantID string

	log       *chatlog.Log
	pipeline  AttachmentPipeline
	session   ThreadSession
	assistant AssistantService
	receiver  ReplyReceiver
	chats     ChatSaver
	bus       *bus.Client
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewController(
	chatID, userID, assistantID string,
	log *chatlog.Log,
	pipeline AttachmentPipeline,
	sess ThreadSession,
	svc AssistantService,
	receiver ReplyReceiver,
	chats ChatSaver,
	b *bus.Client,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		chatID:      chatID,
		userID:      userID,
		assistantID: assistantID,
		log:         log,
		pipeline:    pipeline,
		session:     sess,
		assistant:   svc,
		receiver:    receiver,
		chats:       chats,
		bus:         b,
		logger:      logger,
	}
}

// Log exposes the chat's live message store, for feeds and merged reads.
func (c *Controller) Log() *chatlog.Log {
	return c.log
}

// Running reports whether a submission is in flight.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Submit runs one full submission. On error the optimistic user message
// and any partial assistant text stay in the live log; nothing is rolled
// back or persisted.
func (c *Controller) Submit(ctx context.Context, input string, files []attach.File) (*chatlog.Chat, error) {
	input = strings.TrimSpace(input)
	if input == "" && len(files) == 0 {
		return nil, ErrEmptySubmission
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	chat, err := c.run(ctx, input, files)
	if err != nil {
		metrics.Submissions.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Submissions.WithLabelValues("ok").Inc()
	return chat, nil
}

func (c *Controller) run(ctx context.Context, input string, files []attach.File) (*chatlog.Chat, error) {
	messageID := uuid.NewString()

	userMsg := chatlog.Message{ID: messageID, Role: chatlog.RoleUser, Text: input}
	if len(files) > 0 {
		userMsg.Attachments = placeholders(files)
	}
	c.log.Upsert(userMsg)

	var refs []chatlog.AttachmentRef
	if len(files) > 0 {
		var err error
		refs, err = c.uploadAttachments(ctx, messageID, files)
		if err != nil {
			// The optimistic message keeps its unresolved markers.
			return nil, err
		}
		userMsg.Attachments = refs
		c.log.Upsert(userMsg)
	}

	chat, err := c.session.Ensure(ctx, userMsg)
	if err != nil {
		return nil, fmt.Errorf("ensure thread: %w", err)
	}

	content := input
	if content == "" {
		content = defaultFileContent
	}
	req := assistant.MessageRequest{Role: string(chatlog.RoleUser), Content: content}
	for _, ref := range refs {
		if ref.RemoteFileID != "" {
			req.Attachments = append(req.Attachments, assistant.MessageAttachment{FileID: ref.RemoteFileID})
		}
	}
	if err := c.assistant.CreateMessage(ctx, chat.ThreadID, req); err != nil {
		return nil, fmt.Errorf("create thread message: %w", err)
	}

	src, err := c.assistant.StreamRun(ctx, chat.ThreadID, c.assistantID)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer src.Close()

	res, err := c.receiver.Run(ctx, src)
	if err != nil {
		metrics.Runs.WithLabelValues("errored").Inc()
		if perr := c.bus.Publish(bus.SubjectRunErrored, map[string]any{
			"chat_id":   c.chatID,
			"thread_id": chat.ThreadID,
			"error":     err.Error(),
		}); perr != nil {
			c.logger.Warn("failed to publish run errored", "error", perr)
		}
		return nil, fmt.Errorf("assistant run: %w", err)
	}
	metrics.Runs.WithLabelValues("completed").Inc()

	chat.Messages = append(chat.Messages, chatlog.Message{
		ID:        res.MessageID,
		Role:      chatlog.RoleAssistant,
		Text:      res.Text,
		Citations: res.Citations,
	})

	if err := c.chats.SaveChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}

	if err := c.bus.Publish(bus.SubjectChatSaved, map[string]any{
		"chat_id":   chat.ID,
		"thread_id": chat.ThreadID,
		"messages":  len(chat.Messages),
	}); err != nil {
		c.logger.Warn("failed to publish chat saved", "error", err)
	}
	if err := c.bus.Publish(bus.SubjectRunCompleted, map[string]any{
		"chat_id":    chat.ID,
		"message_id": res.MessageID,
		"citations":  len(res.Citations),
	}); err != nil {
		c.logger.Warn("failed to publish run completed", "error", err)
	}

	c.logger.Info("submission complete",
		"chat_id", chat.ID,
		"message_id", messageID,
		"assistant_message_id", res.MessageID,
		"citations", len(res.Citations),
	)
	return chat, nil
}

func (c *Controller) uploadAttachments(ctx context.Context, messageID string, files []attach.File) ([]chatlog.AttachmentRef, error) {
	target := attach.Target{UserID: c.userID, ChatID: c.chatID, MessageID: messageID}

	refs, err := c.pipeline.Upload(ctx, target, files)
	if err != nil {
		metrics.FileUploads.WithLabelValues(attach.KindBlobUpload, "error").Inc()
		c.publishUploadFailed(err)
		return nil, fmt.Errorf("upload attachments: %w", err)
	}
	metrics.FileUploads.WithLabelValues(attach.KindBlobUpload, "ok").Inc()

	refs, err = c.pipeline.Register(ctx, files, refs)
	if err != nil {
		metrics.FileUploads.WithLabelValues(attach.KindAssistantRegistration, "error").Inc()
		c.publishUploadFailed(err)
		return nil, fmt.Errorf("register attachments: %w", err)
	}
	metrics.FileUploads.WithLabelValues(attach.KindAssistantRegistration, "ok").Inc()

	return refs, nil
}

func (c *Controller) publishUploadFailed(err error) {
	var uerr *attach.UploadError
	kind := "unknown"
	if errors.As(err, &uerr) {
		kind = uerr.Kind
	}
	if perr := c.bus.Publish(bus.SubjectUploadFailed, map[string]any{
		"chat_id": c.chatID,
		"kind":    kind,
		"error":   err.Error(),
	}); perr != nil {
		c.logger.Warn("failed to publish upload failure", "error", perr)
	}
}

func placeholders(files []attach.File) []chatlog.AttachmentRef {
	refs := make([]chatlog.AttachmentRef, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		refs = append(refs, chatlog.AttachmentRef{LocalName: f.Name})
	}
	return refs
}
