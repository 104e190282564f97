package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUpload(t *testing.T) {
	var gotPath, gotAuth, gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if r.URL.Query().Get("access") != "public" {
			t.Errorf("access = %q", r.URL.Query().Get("access"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"url":"https://cdn.example/abc","pathname":"user:u1/chat:c1/a.txt","contentType":"text/plain"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "blob-token")
	obj, err := c.Upload(context.Background(), "user:u1/chat:c1/a.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if obj.URL != "https://cdn.example/abc" {
		t.Errorf("url = %q", obj.URL)
	}
	if gotAuth != "Bearer blob-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotCT != "text/plain" {
		t.Errorf("content type = %q", gotCT)
	}
	if string(gotBody) != "hello" {
		t.Errorf("body = %q", gotBody)
	}
	// The key's / separators stay literal on the wire.
	if gotPath != "/user:u1/chat:c1/a.txt" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestUploadEscapesSegmentsNotSeparators(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"url":"u","pathname":"p","contentType":"text/plain"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "blob-token")
	_, err := c.Upload(context.Background(), "user:u1/chat:c1/my file.txt", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/user:u1/chat:c1/my%20file.txt" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("store offline"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "blob-token")
	_, err := c.Upload(context.Background(), "k", "text/plain", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status code, got %v", err)
	}
}

func TestUploadDefaultsContentType(t *testing.T) {
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		w.Write([]byte(`{"url":"u","pathname":"p"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "blob-token")
	obj, err := c.Upload(context.Background(), "data.bin", "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCT != "application/octet-stream" {
		t.Errorf("content type = %q", gotCT)
	}
	if obj.ContentType != "application/octet-stream" {
		t.Errorf("object content type = %q", obj.ContentType)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"report.pdf", "application/pdf"},
		{"data.json", "application/json"},
		{"unknown.qqq", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := ContentTypeFor(tc.name); !strings.HasPrefix(got, tc.want) {
			t.Errorf("ContentTypeFor(%q) = %q, want prefix %q", tc.name, got, tc.want)
		}
	}
}
