// Package recording writes per-request debug copies of the raw audio sent to
// the transcription backend.
//
// Recordings are side artifacts for inspection, not durable application
// state: a failed write is reported to the caller, who decides whether to log
// and continue. Files are named by capture timestamp plus request id so
// concurrent-looking bursts never collide.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Writer persists debug audio recordings under a fixed directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer targeting dir. The directory is created on first
// save, not at construction, so a misconfigured path only surfaces when a
// recording is actually written.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Save writes audio to a timestamped file and returns its path. ext is the
// file extension without dot (defaults to "webm" when empty).
func (w *Writer) Save(audio []byte, requestID string, ext string) (string, error) {
	if w.dir == "" {
		return "", fmt.Errorf("recording: directory not configured")
	}
	if ext == "" {
		ext = "webm"
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("recording: create directory %q: %w", w.dir, err)
	}

	name := fmt.Sprintf("voice-%s-%s.%s", time.Now().UTC().Format("20060102T150405.000Z"), requestID, ext)
	path := filepath.Join(w.dir, name)

	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("recording: write %q: %w", path, err)
	}
	return path, nil
}
