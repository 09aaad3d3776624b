// Package whisperhttp provides a transcription provider backed by a
// whisper-server-compatible HTTP endpoint.
//
// The provider POSTs the audio as multipart/form-data (a "file" part plus a
// "language" field) and expects a JSON body carrying the transcript. Different
// server builds name the transcript field differently, so the response is
// probed against a fixed preference order of field names and the first
// non-empty one wins.
//
// Usage:
//
//	p, err := whisperhttp.New("http://localhost:8178/transcribe",
//	    whisperhttp.WithTimeout(120*time.Second),
//	)
//	tr, err := p.Transcribe(ctx, transcribe.Request{Audio: wav, Language: "en"})
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxlay/voxlay/pkg/provider/transcribe"
)

const (
	// defaultTimeout is the hard ceiling for one transcription round trip.
	defaultTimeout = 120 * time.Second

	// maxUploadBytes caps the audio payload size. Recordings larger than this
	// are rejected client-side before any bytes hit the wire.
	maxUploadBytes = 25 << 20 // 25 MiB

	// maxResponseBytes bounds how much of the response body is read.
	maxResponseBytes = 4 << 20
)

// textFields is the preference order of JSON field names probed for the
// transcript. The first non-empty value wins.
var textFields = []string{"text", "transcript", "transcription", "result"}

// ErrEmptyAudio is returned when the request carries no audio bytes.
var ErrEmptyAudio = errors.New("whisperhttp: audio must not be empty")

// ErrNoTranscript is returned when the response parses but none of the known
// transcript fields carry text.
var ErrNoTranscript = errors.New("whisperhttp: response contains no transcript text")

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout overrides the default 120 s request ceiling.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely. The client's own Timeout
// then governs the request ceiling.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements transcribe.Provider against a whisper-server-compatible
// REST endpoint. Safe for concurrent use.
type Provider struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider posting to endpoint (e.g.,
// "http://localhost:8178/transcribe"). endpoint must be non-empty.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("whisperhttp: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Transcription, error) {
	if len(req.Audio) == 0 {
		return transcribe.Transcription{}, ErrEmptyAudio
	}
	if len(req.Audio) > maxUploadBytes {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: audio is %d bytes, limit is %d", len(req.Audio), maxUploadBytes)
	}

	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: write audio: %w", err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return transcribe.Transcription{}, fmt.Errorf("whisperhttp: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transcribe.Transcription{}, fmt.Errorf("whisperhttp: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	text, err := extractText(data)
	if err != nil {
		return transcribe.Transcription{}, err
	}
	return transcribe.Transcription{Text: text}, nil
}

// extractText probes the response JSON for the transcript under the known
// field names, in preference order.
func extractText(data []byte) (string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("whisperhttp: parse JSON response: %w", err)
	}
	for _, field := range textFields {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", ErrNoTranscript
}

// truncate shortens a response body for inclusion in error messages.
func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
