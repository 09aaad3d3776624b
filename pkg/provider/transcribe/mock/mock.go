// Package mock provides a test double for the transcribe.Provider interface.
//
// Use Provider in unit tests to feed controlled transcripts without a live
// STT backend and to assert on the requests the pipeline sends.
package mock

import (
	"context"
	"sync"

	"github.com/voxlay/voxlay/pkg/provider/transcribe"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req transcribe.Request
}

// Provider is a mock implementation of transcribe.Provider.
// Zero values cause Transcribe to return an empty Transcription and nil error.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result transcribe.Transcription

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []Call
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Transcription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	if p.Err != nil {
		return transcribe.Transcription{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of recorded Transcribe invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)
