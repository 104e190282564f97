package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/chatlog"
	"github.com/parleyhq/parley/internal/metrics"
)

// State of a receiver run.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalizing
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// RunError reports a run that ended with a non-success status. The partial
// text accumulated so far stays in the message store.
type RunError struct {
	Status string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("assistant run ended with status %q", e.Status)
}

// EventSource is one pass over a run's event sequence. assistant.RunStream
// satisfies it.
type EventSource interface {
	Next() (assistant.Event, error)
}

// FileResolver resolves a remote file id to its metadata, used for
// citation display names.
type FileResolver interface {
	RetrieveFile(ctx context.Context, fileID string) (assistant.File, error)
}

// Result is the finalized assistant reply.
type Result struct {
	MessageID string
	Text      string
	Citations []chatlog.Citation
}

// Receiver consumes one assistant run's event stream, upserting the
// assistant message into the log as deltas arrive and finalizing citations
// on completion. A Receiver is reusable; each Run is an independent pass.
type Receiver struct {
	log    *chatlog.Log
	files  FileResolver
	logger *slog.Logger

	state State
}

func NewReceiver(log *chatlog.Log, files FileResolver, logger *slog.Logger) *Receiver {
	return &Receiver{log: log, files: files, logger: logger}
}

// State reports the state of the most recent run.
func (r *Receiver) State() State {
	return r.state
}

// Run drives the event source to completion. Whatever text has been
// upserted stays in the log even when the run errors: partial output is
// never rolled back.
func (r *Receiver) Run(ctx context.Context, events EventSource) (Result, error) {
	messageID := uuid.NewString()
	r.state = StateStreaming

	var acc strings.Builder
	provisional := 0

	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.state = StateErrored
			return Result{MessageID: messageID, Text: acc.String()}, fmt.Errorf("read run event: %w", err)
		}

		switch ev.Kind {
		case assistant.EventDelta:
			metrics.StreamDeltas.Inc()
			text := ev.Text
			// Annotation fragments arriving mid-stream get a provisional
			// [N] placeholder; metadata is not reliable until completion.
			// An annotation can land in a different delta than its text,
			// so the counter advances only on an actual substitution.
			for _, a := range ev.Annotations {
				if a.Text == "" || !strings.Contains(text, a.Text) {
					continue
				}
				provisional++
				text = strings.Replace(text, a.Text, fmt.Sprintf("[%d]", provisional), 1)
			}
			acc.WriteString(text)
			r.log.Upsert(chatlog.Message{
				ID:   messageID,
				Role: chatlog.RoleAssistant,
				Text: acc.String(),
			})

		case assistant.EventCompleted:
			r.state = StateFinalizing
			res, err := r.finalize(ctx, messageID, ev)
			if err != nil {
				r.state = StateErrored
				return Result{MessageID: messageID, Text: acc.String()}, err
			}
			r.state = StateDone
			return res, nil

		case assistant.EventRunStatus:
			if ev.Status != assistant.RunStatusCompleted {
				r.state = StateErrored
				r.logger.Error("assistant run failed", "status", ev.Status, "message_id", messageID)
				return Result{MessageID: messageID, Text: acc.String()}, &RunError{Status: ev.Status}
			}

		default:
			r.state = StateErrored
			return Result{MessageID: messageID, Text: acc.String()}, fmt.Errorf("unexpected event kind %q", ev.Kind)
		}
	}

	// Stream ended without a completion event; keep what streamed.
	r.state = StateDone
	return Result{MessageID: messageID, Text: acc.String()}, nil
}

// finalize rewrites the completed text, assigning citation indices by
// enumeration order over the annotation list. Upstream-reported indices
// are ignored so the result is always a dense 1..N sequence.
func (r *Receiver) finalize(ctx context.Context, messageID string, ev assistant.Event) (Result, error) {
	text := ev.Text
	citations := make([]chatlog.Citation, 0, len(ev.Annotations))

	for i, a := range ev.Annotations {
		index := i + 1
		if a.Text != "" {
			text = strings.Replace(text, a.Text, fmt.Sprintf("[%d]", index), 1)
		}

		file, err := r.files.RetrieveFile(ctx, a.FileID)
		if err != nil {
			return Result{}, fmt.Errorf("resolve citation file %s: %w", a.FileID, err)
		}

		citations = append(citations, chatlog.Citation{
			Index:       index,
			Text:        a.Text,
			FileName:    file.Filename,
			StartOffset: a.StartOffset,
			EndOffset:   a.EndOffset,
		})
	}

	if len(citations) > 0 {
		text += "\n\n"
	}

	r.log.Upsert(chatlog.Message{
		ID:        messageID,
		Role:      chatlog.RoleAssistant,
		Text:      text,
		Citations: citations,
	})
	r.logger.Info("run finalized", "message_id", messageID, "citations", len(citations))

	return Result{MessageID: messageID, Text: text, Citations: citations}, nil
}
