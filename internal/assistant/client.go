package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client talks to the remote assistant service: threads, messages, files
// and streamed runs.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Thread is a remote conversation context. Only the id is cached locally.
type Thread struct {
	ID string `json:"id"`
}

// File is a file registered with the assistant's own file store. Its id is
// distinct from any blob URL the same bytes were uploaded to.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// MessageAttachment references a registered file on a thread message.
type MessageAttachment struct {
	FileID string `json:"file_id"`
}

// MessageRequest is the payload for creating a message on a thread.
type MessageRequest struct {
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateThread creates a new remote thread.
func (c *Client) CreateThread(ctx context.Context) (Thread, error) {
	var thread Thread
	if err := c.postJSON(ctx, "/v1/threads", struct{}{}, &thread); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	if thread.ID == "" {
		return Thread{}, fmt.Errorf("create thread: empty thread id in response")
	}
	return thread, nil
}

// CreateMessage appends a message to an existing thread.
func (c *Client) CreateMessage(ctx context.Context, threadID string, req MessageRequest) error {
	path := fmt.Sprintf("/v1/threads/%s/messages", threadID)
	if err := c.postJSON(ctx, path, req, nil); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// RetrieveFile fetches metadata for a registered file, used to resolve
// citation display names.
func (c *Client) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+fileID, nil)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	var file File
	if err := c.do(req, &file); err != nil {
		return File{}, fmt.Errorf("retrieve file %s: %w", fileID, err)
	}
	return file, nil
}

// UploadFile registers file bytes with the assistant's file store and
// returns the remote file id.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return File{}, fmt.Errorf("write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return File{}, fmt.Errorf("copy file body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return File{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &buf)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file File
	if err := c.do(req, &file); err != nil {
		return File{}, fmt.Errorf("upload file %s: %w", filename, err)
	}
	return file, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("api error %d: %s — %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
