package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/chatlog"
)

// Error kinds for attachment failures. Blob upload failures and assistant
// registration failures are distinct so callers can report them
// differently; neither is retried.
const (
	KindBlobUpload            = "blob_upload"
	KindAssistantRegistration = "assistant_registration"
)

// UploadError reports the failure that aborted an attachment batch.
type UploadError struct {
	Kind string
	File string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s failed for %q: %v", e.Kind, e.File, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// File is a locally selected file queued for attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Target identifies where a batch of attachments belongs.
type Target struct {
	UserID    string
	ChatID    string
	MessageID string
}

// BlobStore is the subset of the blob client the pipeline needs.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (blob.Object, error)
}

// FileRegistry registers file bytes with the assistant's own file store.
type FileRegistry interface {
	UploadFile(ctx context.Context, filename string, r io.Reader) (assistant.File, error)
}

// Pipeline uploads selected files to the blob store and registers them
// with the assistant service, producing enriched attachment refs in
// submission order.
type Pipeline struct {
	blobs    BlobStore
	registry FileRegistry
	logger   *slog.Logger
}

func NewPipeline(blobs BlobStore, registry FileRegistry, logger *slog.Logger) *Pipeline {
	return &Pipeline{blobs: blobs, registry: registry, logger: logger}
}

// Upload stores each file in the blob store sequentially, keyed by
// user:{userId}/chat:{chatId}/{filename}. The first failure aborts the
// remaining uploads and is reported as a blob_upload error. Duplicate
// local names within one message are uploaded once.
func (p *Pipeline) Upload(ctx context.Context, target Target, files []File) ([]chatlog.AttachmentRef, error) {
	refs := make([]chatlog.AttachmentRef, 0, len(files))
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true

		key := fmt.Sprintf("user:%s/chat:%s/%s", target.UserID, target.ChatID, f.Name)
		obj, err := p.blobs.Upload(ctx, key, f.ContentType, bytes.NewReader(f.Data))
		if err != nil {
			p.logger.Error("blob upload failed",
				"file", f.Name,
				"chat_id", target.ChatID,
				"message_id", target.MessageID,
				"error", err,
			)
			return refs, &UploadError{Kind: KindBlobUpload, File: f.Name, Err: err}
		}

		refs = append(refs, chatlog.AttachmentRef{
			LocalName:   f.Name,
			BlobURL:     obj.URL,
			ContentType: obj.ContentType,
		})
	}

	p.logger.Info("attachments uploaded", "count", len(refs), "chat_id", target.ChatID)
	return refs, nil
}

// Register uploads each blob-backed file to the assistant's file store and
// fills in the remote file id, preserving submission order. The first
// failure aborts the batch with an assistant_registration error; already
// enriched refs keep their ids.
func (p *Pipeline) Register(ctx context.Context, files []File, refs []chatlog.AttachmentRef) ([]chatlog.AttachmentRef, error) {
	data := make(map[string][]byte, len(files))
	for _, f := range files {
		data[f.Name] = f.Data
	}

	out := make([]chatlog.AttachmentRef, len(refs))
	copy(out, refs)

	for i, ref := range out {
		if ref.RemoteFileID != "" {
			continue
		}
		file, err := p.registry.UploadFile(ctx, ref.LocalName, bytes.NewReader(data[ref.LocalName]))
		if err != nil {
			p.logger.Error("assistant registration failed", "file", ref.LocalName, "error", err)
			return out, &UploadError{Kind: KindAssistantRegistration, File: ref.LocalName, Err: err}
		}
		out[i].RemoteFileID = file.ID
	}

	return out, nil
}
