// Package config provides the configuration schema and loader for the Voxlay
// voice pipeline service.
package config

import "time"

// LogLevel controls log verbosity for the Voxlay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// GenerateBackend selects the streaming generation implementation.
type GenerateBackend string

const (
	// BackendOllama streams from an Ollama-compatible /api/generate endpoint.
	BackendOllama GenerateBackend = "ollama"

	// BackendOpenAI streams from an OpenAI-compatible chat completions API.
	BackendOpenAI GenerateBackend = "openai"
)

// IsValid reports whether b is a recognised generation backend.
func (b GenerateBackend) IsValid() bool {
	return b == BackendOllama || b == BackendOpenAI
}

// Config is the root configuration structure for Voxlay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Generation    GenerationConfig    `yaml:"generation"`
	Voice         VoiceConfig         `yaml:"voice"`
	Settings      SettingsConfig      `yaml:"settings"`
}

// ServerConfig holds network and logging settings for the local command API.
type ServerConfig struct {
	// ListenAddr is the TCP address the command API listens on. The overlay UI
	// connects here; binding beyond loopback is the operator's choice.
	// Default: "127.0.0.1:8571".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TranscriptionConfig points at the speech-to-text HTTP endpoint.
type TranscriptionConfig struct {
	// Endpoint is the full transcription URL
	// (e.g., "http://localhost:8178/transcribe").
	Endpoint string `yaml:"endpoint"`

	// Timeout is the hard ceiling for one transcription round trip.
	// Default: 120s.
	Timeout time.Duration `yaml:"timeout"`

	// DefaultLanguage is the language hint used when a request carries none.
	// Default: "en".
	DefaultLanguage string `yaml:"default_language"`
}

// GenerationConfig configures the streaming generation backend and the model
// fallback list.
type GenerationConfig struct {
	// Backend selects the implementation. Default: "ollama".
	Backend GenerateBackend `yaml:"backend"`

	// BaseURL is the backend server address
	// (e.g., "http://localhost:11434" for Ollama).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the backend when it requires one.
	// Unused by local Ollama.
	APIKey string `yaml:"api_key"`

	// FallbackModels is the ordered list of default candidate models tried
	// after any per-request override and the persisted preferred model.
	FallbackModels []string `yaml:"fallback_models"`

	// AttemptTimeout bounds a single model's streaming attempt so a hung
	// stream cannot hold the pipeline's single-flight lock forever.
	// Default: 5m.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// BreakerMaxFailures is the consecutive-failure count that puts a model on
	// cooldown. Default: 3.
	BreakerMaxFailures int `yaml:"breaker_max_failures"`

	// BreakerCooldown is how long a tripped model is skipped. Default: 60s.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// VoiceConfig tunes the pipeline's history and artifact behaviour.
type VoiceConfig struct {
	// MaxHistoryTurns bounds the conversation history store. Default: 15.
	MaxHistoryTurns int `yaml:"max_history_turns"`

	// HistoryCharBudget caps the history section of an assembled prompt.
	// Default: 2000.
	HistoryCharBudget int `yaml:"history_char_budget"`

	// RecordingsDir is where debug copies of submitted audio are written.
	// Empty disables debug recordings.
	RecordingsDir string `yaml:"recordings_dir"`
}

// SettingsConfig locates the persisted user settings.
type SettingsConfig struct {
	// Path is the JSON settings file. Empty keeps settings in memory only.
	Path string `yaml:"path"`
}
