// Package mock provides a test double for the generate.Provider interface.
//
// Use Provider in unit tests to script per-model stream outcomes without a
// live generation backend. Behaviour is configured per model name, matching
// how the voice pipeline retries one request across several models.
//
// Example:
//
//	p := mock.NewProvider()
//	p.SetStream("llama3.1", []generate.Chunk{{Delta: "a"}, {Delta: "b"}, {Done: true}})
//	p.SetError("mistral", errors.New("connection refused"))
package mock

import (
	"context"
	"sync"

	"github.com/voxlay/voxlay/pkg/provider/generate"
)

// Call records a single invocation of Stream.
type Call struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the request passed to Stream.
	Req generate.Request
}

// script is the configured outcome for one model name.
type script struct {
	chunks []generate.Chunk
	err    error
	// block, when non-nil, makes the stream emit its chunks and then hang
	// until the channel is closed or ctx is cancelled. Used for abort tests.
	block chan struct{}
}

// Provider is a mock implementation of generate.Provider. Models without a
// configured script fail with a generic error, which drives fallback in the
// consumer exactly like an unreachable backend would.
type Provider struct {
	mu      sync.Mutex
	scripts map[string]script

	// DefaultErr is returned by Stream for models without a script.
	// When nil, a generate.Chunk{Err} terminated stream is produced instead.
	DefaultErr error

	// Calls records every invocation of Stream in order.
	Calls []Call
}

// NewProvider creates an empty Provider.
func NewProvider() *Provider {
	return &Provider{scripts: make(map[string]script)}
}

// SetStream scripts a successful stream of chunks for model.
func (p *Provider) SetStream(model string, chunks []generate.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[model] = script{chunks: chunks}
}

// SetError scripts a connect-time failure for model: Stream returns (nil, err).
func (p *Provider) SetError(model string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[model] = script{err: err}
}

// SetBlocking scripts a stream that emits chunks and then hangs until release
// is closed or the caller's context is cancelled. Used to exercise abort and
// timeout paths.
func (p *Provider) SetBlocking(model string, chunks []generate.Chunk, release chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[model] = script{chunks: chunks, block: release}
}

// Stream implements generate.Provider.
func (p *Provider) Stream(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	s, ok := p.scripts[req.Model]
	defaultErr := p.DefaultErr
	p.mu.Unlock()

	if !ok {
		if defaultErr != nil {
			return nil, defaultErr
		}
		ch := make(chan generate.Chunk, 1)
		ch <- generate.Chunk{Err: errUnscripted(req.Model)}
		close(ch)
		return ch, nil
	}
	if s.err != nil {
		return nil, s.err
	}

	ch := make(chan generate.Chunk, len(s.chunks))
	go func() {
		defer close(ch)
		for _, c := range s.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Models returns the model names of all recorded calls, in order.
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	models := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		models[i] = c.Req.Model
	}
	return models
}

type errUnscripted string

func (e errUnscripted) Error() string {
	return "mock: no stream scripted for model " + string(e)
}

// Compile-time assertion that Provider implements generate.Provider.
var _ generate.Provider = (*Provider)(nil)
