package chatlog

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation is a finalized, renumbered source reference attached to an
// assistant message. Index values always form a dense 1..N sequence in
// order of appearance, independent of anything the upstream service reports.
type Citation struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	FileName    string `json:"file_name"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// AttachmentRef describes one file attached to a message. It starts life
// with only LocalName at selection time; the attachment pipeline fills in
// BlobURL after the blob upload and RemoteFileID after registration with
// the assistant service.
type AttachmentRef struct {
	LocalName    string `json:"name"`
	RemoteFileID string `json:"file_id,omitempty"`
	BlobURL      string `json:"url,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

// Message is one conversation turn. Exactly one message exists per ID
// within a chat; insertion order is conversation order.
type Message struct {
	ID          string          `json:"id"`
	Role        Role            `json:"role"`
	Text        string          `json:"text"`
	Citations   []Citation      `json:"citations,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// Chat is the persisted conversation record. ThreadID is empty until the
// first submission creates a remote thread, and immutable afterwards.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	ThreadID  string    `json:"thread_id"`
	Messages  []Message `json:"messages"`
}

// ParseAttachments decodes the serialized attachment field of a historical
// message. Malformed or empty input degrades to nil rather than an error so
// a bad record can never break rendering.
func ParseAttachments(raw string) []AttachmentRef {
	if raw == "" || raw == "null" {
		return nil
	}
	var refs []AttachmentRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil
	}
	return refs
}

// MarshalAttachments serializes attachment refs for storage. An empty set
// serializes to the empty string so the column stays NULL-ish for messages
// without files.
func MarshalAttachments(refs []AttachmentRef) string {
	if len(refs) == 0 {
		return ""
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return string(b)
}
