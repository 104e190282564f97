package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event kinds yielded by a RunStream.
const (
	EventDelta     = "delta"
	EventCompleted = "completed"
	EventRunStatus = "run_status"
)

// RunStatusCompleted is the only run status treated as success.
const RunStatusCompleted = "completed"

// Annotation marks a span of assistant output as backed by a source file.
// Index is whatever the upstream service reported and is not trusted to be
// dense or unique.
type Annotation struct {
	Text        string `json:"text"`
	FileID      string `json:"file_id"`
	StartOffset int    `json:"start_index"`
	EndOffset   int    `json:"end_index"`
	Index       int    `json:"index"`
}

// Event is one unit of streamed run output. Delta events carry partial
// text and possibly partial annotations; the completed event carries the
// full final text and the complete annotation list; run status events
// carry only Status.
type Event struct {
	Kind        string
	Text        string
	Annotations []Annotation
	Status      string
}

// RunStream is a strictly sequential, one-pass, non-restartable view over
// a run's server-sent events. It is not safe for concurrent use.
type RunStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewRunStream wraps a raw SSE body. Exposed so tests can drive a receiver
// from canned bytes.
func NewRunStream(body io.ReadCloser) *RunStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &RunStream{body: body, scanner: sc}
}

// StreamRun starts a streamed run on the thread and returns the event
// stream. The caller owns closing it.
func (c *Client) StreamRun(ctx context.Context, threadID, assistantID string) (*RunStream, error) {
	payload := struct {
		AssistantID string `json:"assistant_id"`
		Stream      bool   `json:"stream"`
	}{AssistantID: assistantID, Stream: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/threads/%s/runs", c.baseURL, threadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("start run: api error %d: %s", resp.StatusCode, string(respBody))
	}

	return NewRunStream(resp.Body), nil
}

// messageData is the wire shape shared by message delta and completed
// payloads.
type messageData struct {
	Delta   *messageContent `json:"delta"`
	Content []contentBlock  `json:"content"`
	Status  string          `json:"status"`
}

type messageContent struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text struct {
		Value       string           `json:"value"`
		Annotations []wireAnnotation `json:"annotations"`
	} `json:"text"`
}

type wireAnnotation struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	StartIndex   int    `json:"start_index"`
	EndIndex     int    `json:"end_index"`
	Index        int    `json:"index"`
	FileCitation struct {
		FileID string `json:"file_id"`
	} `json:"file_citation"`
}

// Next returns the next consumable event, skipping wire events this client
// does not act on. It returns io.EOF when the stream is exhausted and a
// non-nil error on malformed data.
func (s *RunStream) Next() (Event, error) {
	eventName := ""
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return Event{}, io.EOF
			}
			ev, ok, err := decodeEvent(eventName, data)
			if err != nil {
				return Event{}, err
			}
			if ok {
				return ev, nil
			}
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read stream: %w", err)
	}
	return Event{}, io.EOF
}

func (s *RunStream) Close() error {
	return s.body.Close()
}

func decodeEvent(name, data string) (Event, bool, error) {
	switch {
	case name == "thread.message.delta":
		var md messageData
		if err := json.Unmarshal([]byte(data), &md); err != nil {
			return Event{}, false, fmt.Errorf("decode delta event: %w", err)
		}
		if md.Delta == nil {
			return Event{}, false, fmt.Errorf("delta event without delta payload")
		}
		text, anns := flattenContent(md.Delta.Content)
		return Event{Kind: EventDelta, Text: text, Annotations: anns}, true, nil

	case name == "thread.message.completed":
		var md messageData
		if err := json.Unmarshal([]byte(data), &md); err != nil {
			return Event{}, false, fmt.Errorf("decode completed event: %w", err)
		}
		text, anns := flattenContent(md.Content)
		return Event{Kind: EventCompleted, Text: text, Annotations: anns}, true, nil

	case strings.HasPrefix(name, "thread.run."):
		var md messageData
		if err := json.Unmarshal([]byte(data), &md); err != nil {
			return Event{}, false, fmt.Errorf("decode run event: %w", err)
		}
		status := md.Status
		if status == "" {
			status = strings.TrimPrefix(name, "thread.run.")
		}
		// Intermediate lifecycle transitions are not consumable events.
		switch status {
		case "created", "queued", "in_progress", "step.created", "step.in_progress", "step.completed":
			return Event{}, false, nil
		}
		return Event{Kind: EventRunStatus, Status: status}, true, nil
	}

	return Event{}, false, nil
}

func flattenContent(blocks []contentBlock) (string, []Annotation) {
	var sb strings.Builder
	var anns []Annotation
	for _, b := range blocks {
		if b.Type != "" && b.Type != "text" {
			continue
		}
		sb.WriteString(b.Text.Value)
		for _, wa := range b.Text.Annotations {
			anns = append(anns, Annotation{
				Text:        wa.Text,
				FileID:      wa.FileCitation.FileID,
				StartOffset: wa.StartIndex,
				EndOffset:   wa.EndIndex,
				Index:       wa.Index,
			})
		}
	}
	return sb.String(), anns
}
