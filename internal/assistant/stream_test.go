package assistant

import (
	"io"
	"strings"
	"testing"
)

func newStream(sse string) *RunStream {
	return NewRunStream(io.NopCloser(strings.NewReader(sse)))
}

func TestNextParsesDeltas(t *testing.T) {
	s := newStream(`event: thread.message.delta
data: {"delta":{"content":[{"type":"text","text":{"value":"Hello"}}]}}

event: thread.message.delta
data: {"delta":{"content":[{"type":"text","text":{"value":" world"}}]}}

data: [DONE]
`)

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if ev.Kind != EventDelta || ev.Text != "Hello" {
		t.Errorf("first event = %+v", ev)
	}

	ev, err = s.Next()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if ev.Kind != EventDelta || ev.Text != " world" {
		t.Errorf("second event = %+v", ev)
	}

	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected EOF after [DONE], got %v", err)
	}
}

func TestNextParsesAnnotations(t *testing.T) {
	s := newStream(`event: thread.message.completed
data: {"content":[{"type":"text","text":{"value":"cited claim 【4:0†source】","annotations":[{"type":"file_citation","text":"【4:0†source】","start_index":12,"end_index":24,"index":3,"file_citation":{"file_id":"file-abc"}}]}}]}

data: [DONE]
`)

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("completed event: %v", err)
	}
	if ev.Kind != EventCompleted {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if len(ev.Annotations) != 1 {
		t.Fatalf("annotations = %+v", ev.Annotations)
	}
	ann := ev.Annotations[0]
	if ann.Text != "【4:0†source】" || ann.FileID != "file-abc" || ann.Index != 3 {
		t.Errorf("annotation = %+v", ann)
	}
	if ann.StartOffset != 12 || ann.EndOffset != 24 {
		t.Errorf("offsets = %d..%d", ann.StartOffset, ann.EndOffset)
	}
}

func TestNextSkipsLifecycleEvents(t *testing.T) {
	s := newStream(`event: thread.run.created
data: {"status":"created"}

event: thread.run.queued
data: {"status":"queued"}

event: thread.run.in_progress
data: {"status":"in_progress"}

event: thread.run.completed
data: {"status":"completed"}

data: [DONE]
`)

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventRunStatus || ev.Status != RunStatusCompleted {
		t.Errorf("expected terminal run status, got %+v", ev)
	}
}

func TestNextSurfacesFailureStatus(t *testing.T) {
	s := newStream(`event: thread.run.failed
data: {"status":"failed"}
`)

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventRunStatus || ev.Status != "failed" {
		t.Errorf("event = %+v", ev)
	}
}

func TestNextMalformedData(t *testing.T) {
	s := newStream(`event: thread.message.delta
data: {not json
`)

	if _, err := s.Next(); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestNextDeltaWithoutPayload(t *testing.T) {
	s := newStream(`event: thread.message.delta
data: {"content":[]}
`)

	if _, err := s.Next(); err == nil {
		t.Fatal("expected error for delta event missing its delta payload")
	}
}

func TestNextEOFWithoutDone(t *testing.T) {
	s := newStream(`event: thread.message.delta
data: {"delta":{"content":[{"type":"text","text":{"value":"cut off"}}]}}
`)

	if _, err := s.Next(); err != nil {
		t.Fatalf("delta: %v", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected EOF on truncated stream, got %v", err)
	}
}

func TestNextIgnoresUnknownEvents(t *testing.T) {
	s := newStream(`event: thread.message.created
data: {"id":"msg_1"}

event: thread.run.step.created
data: {"status":"step.created"}

event: thread.message.delta
data: {"delta":{"content":[{"type":"text","text":{"value":"after noise"}}]}}

data: [DONE]
`)

	ev, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Text != "after noise" {
		t.Errorf("expected delta after skipped events, got %+v", ev)
	}
}
