// Package ollama provides a generation provider backed by an Ollama-compatible
// HTTP endpoint.
//
// The provider POSTs {"model", "prompt", "stream": true} to the /api/generate
// endpoint and reads the response body as newline-delimited JSON objects, each
// optionally carrying a "response" text delta and a "done" completion marker.
// Malformed lines are logged and skipped rather than failing the stream.
//
// Usage:
//
//	p, err := ollama.New("http://localhost:11434")
//	ch, err := p.Stream(ctx, generate.Request{Model: "llama3.1", Prompt: "..."})
//	for chunk := range ch { ... }
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxlay/voxlay/pkg/provider/generate"
)

const (
	generatePath = "/api/generate"

	// maxLineBytes bounds a single NDJSON line. Ollama deltas are tiny; a line
	// this large indicates a broken stream.
	maxLineBytes = 1 << 20

	// chunkBuffer is the channel buffer between the reader goroutine and the
	// consumer. Keeps token relay smooth without unbounded memory.
	chunkBuffer = 32
)

// Compile-time assertion that Provider implements generate.Provider.
var _ generate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client. The default client carries no
// overall timeout because streams are open-ended; per-attempt deadlines are
// the caller's responsibility via ctx.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithConnectTimeout sets the response-header timeout for the initial
// connection. Defaults to 30 s.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.connectTimeout = d
	}
}

// Provider implements generate.Provider against an Ollama-style REST API.
// Safe for concurrent use; each Stream call owns its own connection.
type Provider struct {
	baseURL        string
	httpClient     *http.Client
	connectTimeout time.Duration
}

// New creates a Provider for the Ollama server at baseURL (e.g.,
// "http://localhost:11434"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("ollama: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		connectTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: p.connectTimeout},
		}
	}
	return p, nil
}

// generateRequest is the wire shape of POST /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateChunk is the wire shape of one NDJSON line in the response stream.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Stream implements generate.Provider.
func (p *Provider) Stream(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error) {
	if req.Model == "" {
		return nil, errors.New("ollama: model must not be empty")
	}

	payload, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: model %q returned HTTP %d: %s", req.Model, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ch := make(chan generate.Chunk, chunkBuffer)
	go p.relay(ctx, resp.Body, req.Model, ch)
	return ch, nil
}

// relay reads NDJSON lines from body and forwards them as Chunk values until
// a done marker, a read error, or context cancellation.
func (p *Provider) relay(ctx context.Context, body io.ReadCloser, model string, ch chan<- generate.Chunk) {
	defer close(ch)
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var gc generateChunk
		if err := json.Unmarshal(line, &gc); err != nil {
			// Malformed line: skip and keep reading. The stream stays usable.
			slog.Warn("ollama: skipping malformed stream line", "model", model, "err", err)
			continue
		}

		if gc.Error != "" {
			send(ctx, ch, generate.Chunk{Err: fmt.Errorf("ollama: model %q stream error: %s", model, gc.Error)})
			return
		}

		if gc.Response != "" {
			if !send(ctx, ch, generate.Chunk{Delta: gc.Response}) {
				return
			}
		}
		if gc.Done {
			send(ctx, ch, generate.Chunk{Done: true})
			return
		}
	}

	if err := sc.Err(); err != nil {
		send(ctx, ch, generate.Chunk{Err: fmt.Errorf("ollama: read stream: %w", err)})
		return
	}

	// Body ended without a done marker: the stream was cut short.
	send(ctx, ch, generate.Chunk{Err: fmt.Errorf("ollama: model %q stream ended without done marker", model)})
}

// send delivers c unless ctx is cancelled first. Reports whether delivery
// happened.
func send(ctx context.Context, ch chan<- generate.Chunk, c generate.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
