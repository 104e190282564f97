package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/chatlog"
)

type fakeBlobs struct {
	keys    []string
	failOn  string
	baseURL string
}

func (f *fakeBlobs) Upload(_ context.Context, key, contentType string, _ io.Reader) (blob.Object, error) {
	if f.failOn != "" && key == f.failOn {
		return blob.Object{}, errors.New("blob store unavailable")
	}
	f.keys = append(f.keys, key)
	return blob.Object{URL: f.baseURL + key, Pathname: key, ContentType: contentType}, nil
}

type fakeRegistry struct {
	uploaded []string
	failOn   string
}

func (f *fakeRegistry) UploadFile(_ context.Context, filename string, _ io.Reader) (assistant.File, error) {
	if f.failOn != "" && filename == f.failOn {
		return assistant.File{}, errors.New("registration refused")
	}
	f.uploaded = append(f.uploaded, filename)
	return assistant.File{ID: "remote-" + filename, Filename: filename}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFiles(names ...string) []File {
	files := make([]File, 0, len(names))
	for _, n := range names {
		files = append(files, File{Name: n, ContentType: "text/plain", Data: []byte("data-" + n)})
	}
	return files
}

var target = Target{UserID: "u1", ChatID: "c1", MessageID: "m1"}

func TestUploadKeysAndOrder(t *testing.T) {
	blobs := &fakeBlobs{baseURL: "https://blob/"}
	p := NewPipeline(blobs, &fakeRegistry{}, testLogger())

	refs, err := p.Upload(context.Background(), target, testFiles("a.txt", "b.txt", "c.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if refs[i].LocalName != name {
			t.Errorf("ref %d out of submission order: %+v", i, refs[i])
		}
		wantKey := fmt.Sprintf("user:u1/chat:c1/%s", name)
		if blobs.keys[i] != wantKey {
			t.Errorf("key %d = %q, want %q", i, blobs.keys[i], wantKey)
		}
		if refs[i].BlobURL == "" {
			t.Errorf("ref %d missing blob url", i)
		}
	}
}

func TestUploadAbortsBatchOnFailure(t *testing.T) {
	blobs := &fakeBlobs{failOn: "user:u1/chat:c1/b.txt"}
	p := NewPipeline(blobs, &fakeRegistry{}, testLogger())

	_, err := p.Upload(context.Background(), target, testFiles("a.txt", "b.txt", "c.txt"))

	var uerr *UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if uerr.Kind != KindBlobUpload {
		t.Errorf("kind = %q, want %q", uerr.Kind, KindBlobUpload)
	}
	if uerr.File != "b.txt" {
		t.Errorf("file = %q, want b.txt", uerr.File)
	}
	// c.txt must not have been attempted.
	if len(blobs.keys) != 1 {
		t.Errorf("expected only a.txt uploaded before abort, got %v", blobs.keys)
	}
}

func TestUploadDedupesWithinMessage(t *testing.T) {
	blobs := &fakeBlobs{}
	p := NewPipeline(blobs, &fakeRegistry{}, testLogger())

	refs, err := p.Upload(context.Background(), target, testFiles("a.txt", "a.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 1 || len(blobs.keys) != 1 {
		t.Errorf("duplicate logical file uploaded twice: refs=%d keys=%v", len(refs), blobs.keys)
	}
}

func TestRegisterEnrichesRefs(t *testing.T) {
	reg := &fakeRegistry{}
	p := NewPipeline(&fakeBlobs{}, reg, testLogger())

	refs := []chatlog.AttachmentRef{
		{LocalName: "a.txt", BlobURL: "https://blob/a"},
		{LocalName: "b.txt", BlobURL: "https://blob/b"},
	}
	out, err := p.Register(context.Background(), testFiles("a.txt", "b.txt"), refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].RemoteFileID != "remote-a.txt" || out[1].RemoteFileID != "remote-b.txt" {
		t.Errorf("refs not enriched: %+v", out)
	}
	// Inputs are not mutated.
	if refs[0].RemoteFileID != "" {
		t.Errorf("input refs mutated: %+v", refs)
	}
}

func TestRegisterAbortsOnFailure(t *testing.T) {
	reg := &fakeRegistry{failOn: "a.txt"}
	p := NewPipeline(&fakeBlobs{}, reg, testLogger())

	refs := []chatlog.AttachmentRef{
		{LocalName: "a.txt", BlobURL: "https://blob/a"},
		{LocalName: "b.txt", BlobURL: "https://blob/b"},
	}
	_, err := p.Register(context.Background(), testFiles("a.txt", "b.txt"), refs)

	var uerr *UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if uerr.Kind != KindAssistantRegistration {
		t.Errorf("kind = %q, want %q", uerr.Kind, KindAssistantRegistration)
	}
	if len(reg.uploaded) != 0 {
		t.Errorf("batch not aborted: %v", reg.uploaded)
	}
}

func TestRegisterSkipsAlreadyEnriched(t *testing.T) {
	reg := &fakeRegistry{}
	p := NewPipeline(&fakeBlobs{}, reg, testLogger())

	refs := []chatlog.AttachmentRef{{LocalName: "a.txt", RemoteFileID: "remote-a.txt"}}
	out, err := p.Register(context.Background(), testFiles("a.txt"), refs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.uploaded) != 0 {
		t.Errorf("already registered file was re-uploaded: %v", reg.uploaded)
	}
	if out[0].RemoteFileID != "remote-a.txt" {
		t.Errorf("existing id lost: %+v", out[0])
	}
}
