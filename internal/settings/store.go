// Package settings holds the user-editable runtime settings of the voice
// pipeline: the preferred generation model, the persistent voice context, and
// the history-enabled toggle.
//
// Reads are synchronous in-memory lookups. Writes update memory immediately
// and schedule a debounced best-effort JSON save, so rapid edits from the
// settings dialog coalesce into one disk write. A missing or malformed
// settings file is dropped with a warning, never treated as fatal.
package settings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxVoiceContextChars caps the persistent voice context. Longer values are
// truncated on write.
const MaxVoiceContextChars = 4000

// defaultSaveDelay is the debounce window for persistence.
const defaultSaveDelay = 500 * time.Millisecond

// fileState is the on-disk JSON shape.
type fileState struct {
	PreferredModel string `json:"preferred_model"`
	VoiceContext   string `json:"voice_context"`
	HistoryEnabled *bool  `json:"history_enabled"`
}

// Store holds the mutable settings. All methods are safe for concurrent use.
type Store struct {
	mu             sync.Mutex
	preferredModel string
	voiceContext   string
	historyEnabled bool

	path      string
	saveDelay time.Duration
	saveTimer *time.Timer
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithSaveDelay overrides the debounce window. Useful in tests.
func WithSaveDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.saveDelay = d
		}
	}
}

// New creates a Store persisting to path. An empty path disables persistence
// entirely (pure in-memory settings). If a settings file exists it is loaded;
// a malformed file is logged and ignored.
func New(path string, opts ...Option) *Store {
	s := &Store{
		historyEnabled: true,
		path:           path,
		saveDelay:      defaultSaveDelay,
	}
	for _, o := range opts {
		o(s)
	}
	if path != "" {
		s.load()
	}
	return s
}

// PreferredModel returns the persisted preferred model, or "" when unset.
func (s *Store) PreferredModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferredModel
}

// SetPreferredModel updates the preferred model and schedules a save.
func (s *Store) SetPreferredModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferredModel = model
	s.scheduleSave()
}

// VoiceContext returns the persistent voice context string.
func (s *Store) VoiceContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceContext
}

// SetVoiceContext updates the voice context, truncating to
// MaxVoiceContextChars, and schedules a save.
func (s *Store) SetVoiceContext(ctx string) {
	if len(ctx) > MaxVoiceContextChars {
		ctx = ctx[:MaxVoiceContextChars]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceContext = ctx
	s.scheduleSave()
}

// HistoryEnabled reports whether conversation history retention is on.
func (s *Store) HistoryEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyEnabled
}

// SetHistoryEnabled updates the toggle and schedules a save.
func (s *Store) SetHistoryEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyEnabled = enabled
	s.scheduleSave()
}

// Flush cancels any pending debounce and saves immediately. Call during
// shutdown so the last edit is not lost to the debounce window.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	state := s.snapshot()
	path := s.path
	s.mu.Unlock()

	if path != "" {
		save(path, state)
	}
}

// scheduleSave (re)arms the debounce timer. Must be called with s.mu held.
func (s *Store) scheduleSave() {
	if s.path == "" {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, func() {
		s.mu.Lock()
		state := s.snapshot()
		path := s.path
		s.mu.Unlock()
		save(path, state)
	})
}

// snapshot captures the current state for serialisation. Must be called with
// s.mu held.
func (s *Store) snapshot() fileState {
	enabled := s.historyEnabled
	return fileState{
		PreferredModel: s.preferredModel,
		VoiceContext:   s.voiceContext,
		HistoryEnabled: &enabled,
	}
}

// load reads the settings file into memory. Individual malformed values are
// dropped; a malformed file is ignored wholesale.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("settings: cannot read file, starting fresh", "path", s.path, "err", err)
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("settings: malformed file, starting fresh", "path", s.path, "err", err)
		return
	}

	s.preferredModel = state.PreferredModel
	if len(state.VoiceContext) > MaxVoiceContextChars {
		state.VoiceContext = state.VoiceContext[:MaxVoiceContextChars]
	}
	s.voiceContext = state.VoiceContext
	if state.HistoryEnabled != nil {
		s.historyEnabled = *state.HistoryEnabled
	}
}

// save writes state to path atomically (temp file + rename). Failures are
// logged, never surfaced: settings persistence is best-effort.
func save(path string, state fileState) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		slog.Warn("settings: marshal failed", "err", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("settings: cannot create directory", "path", path, "err", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("settings: write failed", "path", tmp, "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Warn("settings: rename failed", "path", path, "err", err)
	}
}
