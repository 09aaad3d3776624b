// Package transcribe defines the Provider interface for speech-to-text
// transcription backends.
//
// A transcription provider wraps a batch STT HTTP service (e.g., a local
// whisper-server instance) and exposes a uniform one-shot interface: a finished
// audio recording goes in, a transcript comes out. The voice pipeline treats
// the backend as a black box with only a response-shape contract.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation on the underlying HTTP call.
package transcribe

import "context"

// Request carries one finished audio recording to the transcription backend.
type Request struct {
	// Audio is the complete encoded audio recording (typically WAV or WebM as
	// produced by the capture layer). Must be non-empty.
	Audio []byte

	// Filename is the form-file name sent to the backend. Purely informational
	// for the server; defaults to "audio.webm" when empty.
	Filename string

	// Language is the BCP-47 language hint forwarded to the backend
	// (e.g., "en", "de"). Empty lets the backend auto-detect if supported.
	Language string
}

// Transcription is the backend's recognition result.
type Transcription struct {
	// Text is the transcribed text. Providers must return a non-empty Text or
	// an error; an empty transcript is treated as a failure by callers.
	Text string
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe uploads the recording and returns the recognised text.
	// A transport failure, a non-2xx response, or a response without usable
	// text all surface as errors.
	Transcribe(ctx context.Context, req Request) (Transcription, error)
}
