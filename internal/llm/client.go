// Package llm wraps the OpenAI-compatible chat API used by every
// cognitive path. Structured calls (orientation, journal, dream) go
// through Complete; the agentic loop uses the raw Chat methods.
package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/ponderer/ponderer/internal/errors"
)

// DefaultTimeout bounds a single completion call when the caller's
// context carries no deadline.
const DefaultTimeout = 120 * time.Second

// Request is a single-shot structured completion.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
}

// Completer is the narrow surface the structured paths depend on.
// Tests substitute a canned implementation.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client talks to one OpenAI-compatible endpoint with a fixed model.
type Client struct {
	api     openai.Client
	model   string
	timeout time.Duration
}

// NewClient builds a client for the given base URL and model. Local
// backends like Ollama accept any non-empty key.
func NewClient(apiURL, apiKey, model string) *Client {
	if apiKey == "" {
		apiKey = "local"
	}
	api := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(apiURL),
	)
	return &Client{api: api, model: model, timeout: DefaultTimeout}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete runs one system+user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.NewTransport("chat completion", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.NewLLMProtocol("empty completion response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Chat runs a raw multi-message completion, tool definitions included.
func (c *Client) Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if params.Model == "" {
		params.Model = c.model
	}
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.NewTransport("chat completion", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.NewLLMProtocol("empty completion response", nil)
	}
	return resp, nil
}

// ChatStream opens a streaming completion. The caller owns the stream
// and must Close it.
func (c *Client) ChatStream(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	if params.Model == "" {
		params.Model = c.model
	}
	return c.api.Chat.Completions.NewStreaming(ctx, params)
}
