// Package generate defines the Provider interface for streaming text
// generation backends.
//
// A generation provider wraps a local or remote LLM endpoint (e.g., an Ollama
// server or an OpenAI-compatible API) and exposes a uniform streaming
// interface: a prompt goes in, incremental text deltas come out on a channel.
// The voice pipeline consumes one provider at a time, retrying the same
// request against alternative model names when a stream fails.
//
// Implementors must be safe for concurrent use. The channel returned by
// Stream must be closed by the implementation when generation finishes, when
// a mid-stream error occurs, or when the supplied context is cancelled.
package generate

import "context"

// Request carries everything the backend needs to produce a streamed answer.
type Request struct {
	// Model is the backend model identifier (e.g., "llama3.1", "gpt-4o-mini").
	Model string

	// Prompt is the fully assembled prompt text, including any system context
	// and conversation history. The provider sends it verbatim.
	Prompt string
}

// Chunk is a single increment emitted by a streaming generation.
type Chunk struct {
	// Delta is the incremental text contributed by this chunk. May be empty on
	// the final chunk.
	Delta string

	// Done marks the structural end of the stream. No further chunks follow a
	// Done chunk.
	Done bool

	// Err carries a mid-stream failure (transport error, malformed terminal
	// state). When set, the stream is over and the accumulated text must be
	// considered invalid. Errors that prevent the stream from starting are
	// returned by Stream directly instead.
	Err error
}

// Provider is the abstraction over any streaming generation backend.
type Provider interface {
	// Stream opens a streaming generation for req and returns a read-only
	// channel of Chunk values in arrival order. The channel is closed when
	// generation ends (after a Done or Err chunk) or when ctx is cancelled.
	//
	// A non-nil error return means the stream never started (connection
	// refused, non-2xx status); callers treat this as a per-model failure.
	// The returned channel is never nil when error is nil. Callers must drain
	// the channel to avoid goroutine leaks.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
