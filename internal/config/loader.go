package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] for unset fields.
const (
	DefaultListenAddr        = "127.0.0.1:8571"
	DefaultTranscribeTimeout = 120 * time.Second
	DefaultLanguage          = "en"
	DefaultAttemptTimeout    = 5 * time.Minute
	DefaultMaxHistoryTurns   = 15
	DefaultHistoryCharBudget = 2000
)

// DefaultFallbackModels is the built-in candidate list used when the config
// names none.
var DefaultFallbackModels = []string{"llama3.1", "mistral", "gemma2"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates the result, and
// fills in defaults. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and applies
// defaults for unset fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transcription
	if cfg.Transcription.Endpoint == "" {
		errs = append(errs, errors.New("transcription.endpoint is required"))
	}
	if cfg.Transcription.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %v must not be negative", cfg.Transcription.Timeout))
	} else if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = DefaultTranscribeTimeout
	}
	if cfg.Transcription.DefaultLanguage == "" {
		cfg.Transcription.DefaultLanguage = DefaultLanguage
	}

	// Generation
	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = BackendOllama
	} else if !cfg.Generation.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("generation.backend %q is invalid; valid values: ollama, openai", cfg.Generation.Backend))
	}
	if cfg.Generation.Backend == BackendOllama && cfg.Generation.BaseURL == "" {
		errs = append(errs, errors.New("generation.base_url is required for the ollama backend"))
	}
	if len(cfg.Generation.FallbackModels) == 0 {
		cfg.Generation.FallbackModels = append([]string(nil), DefaultFallbackModels...)
	}
	if cfg.Generation.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("generation.attempt_timeout %v must not be negative", cfg.Generation.AttemptTimeout))
	} else if cfg.Generation.AttemptTimeout == 0 {
		cfg.Generation.AttemptTimeout = DefaultAttemptTimeout
	}

	// Voice
	if cfg.Voice.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("voice.max_history_turns %d must not be negative", cfg.Voice.MaxHistoryTurns))
	} else if cfg.Voice.MaxHistoryTurns == 0 {
		cfg.Voice.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	if cfg.Voice.HistoryCharBudget < 0 {
		errs = append(errs, fmt.Errorf("voice.history_char_budget %d must not be negative", cfg.Voice.HistoryCharBudget))
	} else if cfg.Voice.HistoryCharBudget == 0 {
		cfg.Voice.HistoryCharBudget = DefaultHistoryCharBudget
	}

	return errors.Join(errs...)
}
