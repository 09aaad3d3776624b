// Package history maintains the bounded conversational memory of the voice
// pipeline.
//
// The store holds an ordered sequence of question/answer turns, oldest first,
// capped at a fixed turn count with FIFO eviction. It also renders a budgeted
// context window for prompt assembly: turns are selected newest-first under a
// character budget and then restored to chronological order, so when the
// budget is tight the oldest turns are dropped first.
//
// State is purely in-memory; nothing survives a process restart.
package history

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxTurns is the turn-count bound applied when NewStore is given a
// non-positive maximum.
const DefaultMaxTurns = 15

// windowHeader precedes the rendered context window. It does not count
// against the character budget.
const windowHeader = "Previous conversation:\n"

// turnSeparator joins rendered turn blocks.
const turnSeparator = "\n\n"

// Turn is one retained question/answer pair.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a bounded FIFO log of conversation turns.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
	enabled  bool
}

// NewStore creates an enabled Store bounded to maxTurns (DefaultMaxTurns when
// maxTurns <= 0).
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		maxTurns: maxTurns,
		enabled:  true,
	}
}

// Append inserts t at the end and evicts from the front until the store is
// within its turn bound. When the store is disabled, Append is a no-op.
func (s *Store) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	s.turns = append(s.turns, t)
	if excess := len(s.turns) - s.maxTurns; excess > 0 {
		s.turns = append(s.turns[:0], s.turns[excess:]...)
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of retained turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear empties the store. Idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// SetEnabled toggles whether Append retains turns. Clear and
// RenderContextWindow work regardless of the toggle.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Enabled reports the current toggle state.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// RenderContextWindow renders the most recent turns whose formatted blocks fit
// within charBudget, restored to chronological order under a fixed header.
//
// Selection is greedy from the newest turn backward: the first block that
// would push the running total past the budget ends the walk, so older turns
// are the first to go. The header and the joining separators do not count
// against the budget. Returns "" when no turn fits or the store is empty.
func (s *Store) RenderContextWindow(charBudget int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if charBudget <= 0 || len(s.turns) == 0 {
		return ""
	}

	var (
		blocks []string
		total  int
	)
	for i := len(s.turns) - 1; i >= 0; i-- {
		block := formatTurn(s.turns[i])
		if total+len(block) > charBudget {
			break
		}
		total += len(block)
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return ""
	}

	// blocks were collected newest-first; restore chronological order.
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}

	return windowHeader + strings.Join(blocks, turnSeparator)
}

// formatTurn renders one turn as a Q/A block.
func formatTurn(t Turn) string {
	return fmt.Sprintf("Q: %s\nA: %s", t.Question, t.Answer)
}
