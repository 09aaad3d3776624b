package recording_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxlay/voxlay/internal/recording"
)

func TestSave_WritesFileWithRequestID(t *testing.T) {
	dir := t.TempDir()
	w := recording.NewWriter(dir)

	path, err := w.Save([]byte("audio"), "req-123", "wav")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("content = %q; want audio", data)
	}

	name := filepath.Base(path)
	if !strings.HasPrefix(name, "voice-") || !strings.Contains(name, "req-123") || !strings.HasSuffix(name, ".wav") {
		t.Errorf("filename = %q; want voice-<timestamp>-req-123.wav", name)
	}
}

func TestSave_EmptyExt_DefaultsToWebm(t *testing.T) {
	w := recording.NewWriter(t.TempDir())
	path, err := w.Save([]byte{1}, "id", "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasSuffix(path, ".webm") {
		t.Errorf("path = %q; want .webm suffix", path)
	}
}

func TestSave_CreatesDirectoryOnDemand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "recordings")
	w := recording.NewWriter(dir)

	if _, err := w.Save([]byte{1}, "id", "webm"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestSave_UnconfiguredDir_ReturnsError(t *testing.T) {
	w := recording.NewWriter("")
	if _, err := w.Save([]byte{1}, "id", "webm"); err == nil {
		t.Fatal("expected error for unconfigured directory, got nil")
	}
}
