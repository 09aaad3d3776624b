// Package event defines the typed notification surface between the voice
// pipeline and the overlay UI.
//
// The pipeline publishes a closed set of event kinds — status transitions,
// incremental generation partials, final results, errors, aborts, and resets —
// through a [Bus] that fans them out to any number of subscribers. Delivery is
// fire-and-forget: the pipeline never blocks on a slow consumer, and events
// for one subscriber are always delivered in publish order.
package event

import (
	"log/slog"
	"sync"
)

// Kind identifies the event type and therefore the payload's concrete type.
type Kind int

const (
	// KindStatus is a phase transition. Payload: [Status].
	KindStatus Kind = iota

	// KindPartial is an incremental generation delta. Payload: [Partial].
	KindPartial

	// KindResult is the final answer for a request. Payload: [Result].
	KindResult

	// KindError is a terminal pipeline failure. Payload: [Error].
	KindError

	// KindAborted signals a user-initiated abort of the in-flight request.
	// Payload: [Aborted].
	KindAborted

	// KindReset signals a full pipeline reset (history and transient state
	// cleared). Payload: none.
	KindReset
)

// String returns the wire name of the kind, used as the "type" field on the
// WebSocket event stream.
func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindPartial:
		return "partial"
	case KindResult:
		return "result"
	case KindError:
		return "error"
	case KindAborted:
		return "aborted"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Phase names a stage of the voice pipeline, carried on Status events so the
// UI can render live progress text.
type Phase string

const (
	PhaseRecordingReceived Phase = "recording_received"
	PhaseTranscribing      Phase = "transcribing"
	PhaseTranscribed       Phase = "transcribed"
	PhaseGenerating        Phase = "generating"
)

// Status is the payload of a KindStatus event.
type Status struct {
	RequestID string `json:"requestId"`
	Phase     Phase  `json:"phase"`
	Message   string `json:"message"`
	Question  string `json:"question,omitempty"`
}

// Partial is the payload of a KindPartial event. Answer is the cumulative
// text so far; Delta is the increment contributed by the latest chunk.
type Partial struct {
	RequestID string `json:"requestId"`
	Delta     string `json:"delta"`
	Answer    string `json:"answer"`
	Model     string `json:"model"`
}

// Result is the payload of a KindResult event.
type Result struct {
	RequestID string `json:"requestId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Model     string `json:"model"`
}

// Error is the payload of a KindError event.
type Error struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

// Aborted is the payload of a KindAborted event.
type Aborted struct {
	RequestID string `json:"requestId"`
}

// Event pairs a [Kind] with its payload. Payload holds the struct named in
// the Kind's documentation, or nil for KindReset.
type Event struct {
	Kind    Kind
	Payload any
}

// Bus fans events out to subscribers. Each subscriber gets its own buffered
// channel; publish order is preserved per subscriber. A subscriber that falls
// behind its buffer loses events (logged at warn) rather than stalling the
// pipeline.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// defaultBuffer is the per-subscriber channel depth. Sized for bursty
// token-level partial events.
const defaultBuffer = 256

// NewBus creates a Bus. buffer <= 0 selects the default depth.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its receive channel plus an
// unsubscribe function. The channel is closed on unsubscribe. Unsubscribing
// twice is a no-op.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers e to every current subscriber without blocking. Events
// dropped due to a full subscriber buffer are logged at warn.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("event bus: dropping event for slow subscriber",
				"subscriber", id, "kind", e.Kind.String())
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
