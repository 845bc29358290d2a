// Package ollama is a client for the Ollama HTTP API, the inference backend
// the gateway proxies chat traffic to.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to an Ollama server.
type Client struct {
	baseURL string
	// control is used for short management calls (tags, delete, ps).
	control *http.Client
	// inference has no timeout; generation on slow hardware can take
	// minutes and is bounded by the request context instead.
	inference *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:11434". controlTimeout bounds management calls only.
func NewClient(baseURL string, controlTimeout time.Duration) *Client {
	if controlTimeout <= 0 {
		controlTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		control:   &http.Client{Timeout: controlTimeout},
		inference: &http.Client{},
	}
}

// Model is one entry from the /api/tags response.
type Model struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Details    struct {
		Family        string `json:"family"`
		ParameterSize string `json:"parameter_size"`
		QuantLevel    string `json:"quantization_level"`
	} `json:"details"`
}

// ChatMessage is a single message in a chat exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is a complete non-streaming reply.
type ChatResponse struct {
	Model   string      `json:"model"`
	Message ChatMessage `json:"message"`
}

// StreamChunk is one piece of a streaming reply. The final chunk has
// Done set and empty content.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func backendErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("ollama returned %d: %s", resp.StatusCode, body)
}

// ListModels returns the models the backend has downloaded.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backendErr(resp)
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}
	return result.Models, nil
}

// Chat sends a non-streaming chat request and returns the full reply.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage) (*ChatResponse, error) {
	resp, err := c.postChat(ctx, model, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}
	return &ChatResponse{Model: model, Message: out.Message}, nil
}

// ChatStream sends a streaming chat request and calls onChunk for each
// NDJSON line as it arrives. Returning an error from onChunk aborts the
// stream.
func (c *Client) ChatStream(ctx context.Context, model string, messages []ChatMessage, onChunk func(StreamChunk) error) error {
	resp, err := c.postChat(ctx, model, messages, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var out chatResponse
		if err := json.Unmarshal(line, &out); err != nil {
			continue
		}
		if err := onChunk(StreamChunk{Content: out.Message.Content, Done: out.Done}); err != nil {
			return err
		}
		if out.Done {
			break
		}
	}
	return scanner.Err()
}

func (c *Client) postChat(ctx context.Context, model string, messages []ChatMessage, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.inference.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, backendErr(resp)
	}
	return resp, nil
}

// PullProgress is one line of a model download's NDJSON progress stream.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads a model on the backend, streaming progress lines to
// onProgress.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress) error) error {
	body, err := json.Marshal(map[string]interface{}{"name": name, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.inference.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backendErr(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if err := onProgress(p); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// DeleteModel removes a model from the backend.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backendErr(resp)
	}
	return nil
}

// Healthy reports whether the backend answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
