// Package openai provides a generation provider backed by an OpenAI-compatible
// chat completions API.
//
// It adapts the streaming chat interface to the prompt-in, deltas-out contract
// of generate.Provider so that remote models can sit in the same fallback list
// as local Ollama models.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/voxlay/voxlay/pkg/provider/generate"
)

// Compile-time assertion that Provider implements generate.Provider.
var _ generate.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point at
// any OpenAI-compatible server (vLLM, llama.cpp server, LM Studio).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout covering the whole stream.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements generate.Provider using an OpenAI-compatible API.
// The model name is taken from each request, so one Provider serves every
// candidate in the fallback list.
type Provider struct {
	client oai.Client
}

// New constructs a Provider. apiKey may be empty when the target server does
// not enforce authentication (common for local OpenAI-compatible servers).
func New(apiKey string, opts ...Option) *Provider {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	var reqOpts []option.RequestOption
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...)}
}

// Stream implements generate.Provider. The prompt is sent as a single user
// message; conversation history is already folded into the prompt text by the
// pipeline's prompt builder.
func (p *Provider) Stream(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(req.Prompt)},
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan generate.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				select {
				case ch <- generate.Chunk{Delta: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if choice.FinishReason != "" {
				select {
				case ch <- generate.Chunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- generate.Chunk{Err: fmt.Errorf("openai: stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		// Stream closed without an explicit finish reason; treat as complete.
		select {
		case ch <- generate.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}
