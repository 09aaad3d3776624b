// Package resilience provides per-model circuit breaking for the generation
// fallback loop.
//
// Every candidate model gets its own breaker. A model that keeps failing is
// put on cooldown and skipped by the fallback loop until the cooldown elapses,
// so a dead local backend does not add connect-timeout latency to every
// request. Breakers start closed, which keeps first-attempt ordering identical
// to a plain sequential loop.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCoolingDown is returned by [ModelBreakers.Attempt] when the model's
// breaker is open and its cooldown has not yet elapsed.
var ErrCoolingDown = errors.New("model is cooling down after repeated failures")

// Config holds tuning knobs shared by all per-model breakers in a set.
type Config struct {
	// MaxFailures is the number of consecutive failures before a model is put
	// on cooldown. Default: 3.
	MaxFailures int

	// Cooldown is how long a tripped model is skipped before the next attempt
	// is allowed through as a probe. Default: 60s.
	Cooldown time.Duration
}

// breaker tracks the failure state of a single model.
type breaker struct {
	consecutiveFail int
	trippedAt       time.Time
	open            bool
}

// ModelBreakers is a set of circuit breakers keyed by model name. Breakers are
// created lazily on first attempt.
type ModelBreakers struct {
	mu  sync.Mutex
	by  map[string]*breaker
	cfg Config
}

// NewModelBreakers creates a set with the given config; zero-value fields are
// replaced with defaults.
func NewModelBreakers(cfg Config) *ModelBreakers {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &ModelBreakers{
		by:  make(map[string]*breaker),
		cfg: cfg,
	}
}

// Attempt runs fn for model if its breaker allows it. When the model is on
// cooldown, fn is not called and ErrCoolingDown is returned. An attempt after
// the cooldown elapses acts as a probe: success closes the breaker, failure
// restarts the cooldown.
func (m *ModelBreakers) Attempt(model string, fn func() error) error {
	m.mu.Lock()
	b, ok := m.by[model]
	if !ok {
		b = &breaker{}
		m.by[model] = b
	}
	if b.open {
		if time.Since(b.trippedAt) < m.cfg.Cooldown {
			m.mu.Unlock()
			return ErrCoolingDown
		}
		slog.Debug("allowing probe attempt for cooled-down model", "model", model)
	}
	m.mu.Unlock()

	err := fn()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		b.consecutiveFail++
		if b.open || b.consecutiveFail >= m.cfg.MaxFailures {
			wasOpen := b.open
			b.open = true
			b.trippedAt = time.Now()
			if !wasOpen {
				slog.Warn("model put on cooldown",
					"model", model,
					"consecutive_failures", b.consecutiveFail,
					"cooldown", m.cfg.Cooldown)
			}
		}
		return err
	}

	if b.open {
		slog.Info("model recovered, cooldown lifted", "model", model)
	}
	b.open = false
	b.consecutiveFail = 0
	return nil
}

// CoolingDown reports whether model is currently on cooldown without running
// an attempt.
func (m *ModelBreakers) CoolingDown(model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.by[model]
	if !ok || !b.open {
		return false
	}
	return time.Since(b.trippedAt) < m.cfg.Cooldown
}

// Reset clears all breaker state, closing every breaker.
func (m *ModelBreakers) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.by = make(map[string]*breaker)
}
