package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Object is the blob store's record of an uploaded file.
type Object struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// Client uploads file bytes to the external blob store and returns
// retrievable URLs. Keys follow the user:{userId}/chat:{chatId}/{filename}
// convention enforced by the attachment pipeline.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload stores the bytes under key with public access and returns the
// blob metadata.
func (c *Client) Upload(ctx context.Context, key, contentType string, r io.Reader) (Object, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}

	uploadURL := c.baseURL + "/" + escapeKey(key) + "?access=public"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, r)
	if err != nil {
		return Object{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Object{}, fmt.Errorf("upload %s: blob store returned %d: %s", key, resp.StatusCode, string(body))
	}

	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return Object{}, fmt.Errorf("unmarshal blob response: %w", err)
	}
	if obj.ContentType == "" {
		obj.ContentType = contentType
	}
	return obj, nil
}

// escapeKey escapes each key segment while keeping the / separators of
// the user:{userId}/chat:{chatId}/{filename} layout literal.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ContentTypeFor guesses a content type from the file extension, falling
// back to application/octet-stream.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
