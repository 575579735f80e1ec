package llm

import (
	"bufio"
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

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrAPIKeyMissing is returned when no API key is configured.
	ErrAPIKeyMissing = errors.New("LLM API key not configured")

	// ErrUpstreamStatus is returned when the provider answers with a non-2xx status.
	ErrUpstreamStatus = errors.New("unexpected status from LLM provider")
)

// Message is one turn of a conversation in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the per-call token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a single non-streaming invocation.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Chunk is one element of a streaming invocation. Content-bearing chunks
// arrive first; the final chunk carries the usage totals. A failed stream
// ends with a chunk whose Err is set.
type Chunk struct {
	Content string
	Model   string
	Usage   *Usage
	Err     error
}

// Client invokes an OpenAI-compatible chat-completions endpoint.
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
	Stream(ctx context.Context, messages []Message) (<-chan Chunk, error)
}

type client struct {
	config     *Config
	httpClient *http.Client
	// streaming responses stay open past any whole-request timeout;
	// cancellation comes from the caller's context instead
	streamClient *http.Client
}

func NewClient(config *Config) Client {
	return &client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
	}
}

type completionRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
		Delta   Message `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	resp, err := c.post(ctx, completionRequest{
		Model:    c.config.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, errors.New("completion response contains no choices")
	}

	completion := &Completion{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}
	if parsed.Usage != nil {
		completion.Usage = *parsed.Usage
	}

	return completion, nil
}

// Stream issues one streaming invocation and returns a finite channel of
// fragments. The channel closes when generation finishes or ctx is
// cancelled; it is not restartable.
func (c *client) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	resp, err := c.do(ctx, c.streamClient, completionRequest{
		Model:         c.config.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var parsed completionResponse
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				c.emit(ctx, chunks, Chunk{Err: fmt.Errorf("decoding stream chunk: %w", err)})
				return
			}

			chunk := Chunk{Model: parsed.Model, Usage: parsed.Usage}
			if len(parsed.Choices) > 0 {
				chunk.Content = parsed.Choices[0].Delta.Content
			}
			if chunk.Content == "" && chunk.Usage == nil {
				continue
			}
			if !c.emit(ctx, chunks, chunk) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			c.emit(ctx, chunks, Chunk{Err: fmt.Errorf("reading stream: %w", err)})
		}
	}()

	return chunks, nil
}

func (c *client) emit(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *client) post(ctx context.Context, payload completionRequest) (*http.Response, error) {
	return c.do(ctx, c.httpClient, payload)
}

func (c *client) do(ctx context.Context, httpClient *http.Client, payload completionRequest) (*http.Response, error) {
	if c.config.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling LLM provider after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}

	return resp, nil
}
