// Package ollama is a small client for the parts of the Ollama HTTP API the
// local extractor needs: liveness, model presence, model pulls and
// non-streaming chat with structured output.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is a chat message. Images hold base64 encoded pictures for
// vision models.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// StatusError is returned when Ollama answers with a non-2xx status.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ollama %s: status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("ollama %s: status %d", e.Op, e.Code)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	keepAlive  string
}

// New creates a Client for the given base URL. Requests carry no client
// timeout; callers bound them with their context.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		keepAlive:  "10m",
	}
}

// post sends body as JSON and returns the open response on 2xx.
func (c *Client) post(ctx context.Context, op, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: encoding request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(op, req)
}

func (c *Client) send(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		json.Unmarshal(raw, &e)
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

// Version returns the server version reported by GET /api/version.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.send("version", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("ollama version: decoding response: %w", err)
	}
	return v.Version, nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Version(ctx)
	return err == nil
}

// HasModel reports whether name is installed, asking POST /api/show.
// A bare name matches its ":latest" tag on the server side.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.post(ctx, "show", "/api/show", map[string]string{"model": name})
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel downloads a model and blocks until the stream ends. onProgress
// may be nil. An error line in the stream aborts the pull.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.post(ctx, "pull", "/api/pull", map[string]any{"model": name, "stream": true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("ollama pull: reading progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("ollama pull %s: %s", name, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Format    any       `json:"format,omitempty"`
	KeepAlive string    `json:"keep_alive,omitempty"`
	Options   *options  `json:"options,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message    Message `json:"message"`
	DoneReason string  `json:"done_reason,omitempty"`
}

// Chat runs one non-streaming completion and returns the assistant text.
// format is either "json" or a JSON schema object; when set the request
// runs at temperature 0.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, format any) (string, error) {
	cr := chatRequest{
		Model:     model,
		Messages:  messages,
		KeepAlive: c.keepAlive,
	}
	if format != nil {
		cr.Format = format
		cr.Options = &options{Temperature: 0}
	}

	resp, err := c.post(ctx, "chat", "/api/chat", cr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama chat: decoding response: %w", err)
	}
	if out.DoneReason == "length" {
		return "", fmt.Errorf("ollama chat: response truncated at the context limit")
	}
	return out.Message.Content, nil
}
