// Package voice implements the voice question-answer pipeline: one audio
// recording in, one streamed answer out.
//
// The [Orchestrator] drives a request through debug persistence,
// transcription, prompt assembly, and a sequential multi-model streaming
// generation loop, publishing typed progress events along the way. Admission
// is single-flight: at most one request is processed at a time and concurrent
// submissions are rejected immediately with [ErrBusy], never queued.
//
// Per request the pipeline moves through persisting → transcribing → prompt
// building → generating(model_i), falling forward through the candidate list
// until one model completes, and terminates in exactly one of: a Result event
// (history appended), an Error event (history untouched), or an Aborted event
// (history untouched).
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlay/voxlay/internal/event"
	"github.com/voxlay/voxlay/internal/history"
	"github.com/voxlay/voxlay/internal/observe"
	"github.com/voxlay/voxlay/internal/prompt"
	"github.com/voxlay/voxlay/internal/recording"
	"github.com/voxlay/voxlay/internal/resilience"
	"github.com/voxlay/voxlay/pkg/provider/generate"
	"github.com/voxlay/voxlay/pkg/provider/transcribe"
)

// Sentinel errors surfaced by [Orchestrator.HandleVoiceRequest].
var (
	// ErrBusy is the single-flight rejection for a concurrent submission.
	// It is expected control flow, not a pipeline failure.
	ErrBusy = errors.New("another voice request in progress")

	// ErrEmptyAudio rejects a request with no audio bytes.
	ErrEmptyAudio = errors.New("audio buffer is empty")

	// ErrTranscriptionFailed wraps any transcription-phase failure.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrEmptyTranscript is returned when the backend answered but produced
	// no usable text.
	ErrEmptyTranscript = errors.New("empty transcription result")

	// ErrAllModelsFailed is returned when every candidate model's generation
	// attempt errored. It wraps the last attempt's error.
	ErrAllModelsFailed = errors.New("LLM generation failed for all models")

	// ErrAborted is returned when the in-flight request was cancelled via
	// Abort or ResetAll.
	ErrAborted = errors.New("voice request aborted")
)

// noAnswerPlaceholder substitutes for an empty answer after a structurally
// successful stream.
const noAnswerPlaceholder = "No answer generated."

// Request is one voice submission from the UI.
type Request struct {
	// Audio is the complete encoded recording. Must be non-empty.
	Audio []byte

	// ModelOverride, when non-empty, is tried before the persisted preferred
	// model and the fallback list.
	ModelOverride string

	// Language is the transcription language hint. Empty selects the
	// configured default.
	Language string
}

// Result is the terminal payload of a successful request. The same values are
// published as a Result event.
type Result struct {
	RequestID string `json:"requestId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Model     string `json:"model"`
}

// SettingsSource supplies the user-editable values the pipeline reads per
// request. Implemented by the settings store; faked in tests.
type SettingsSource interface {
	// PreferredModel returns the persisted preferred model, or "".
	PreferredModel() string

	// VoiceContext returns the persistent free-text context block.
	VoiceContext() string
}

// Config tunes per-request behaviour of the orchestrator.
type Config struct {
	// DefaultLanguage is used when a request carries no language hint.
	DefaultLanguage string

	// FallbackModels is the ordered default candidate list.
	FallbackModels []string

	// HistoryCharBudget caps the history section of the assembled prompt.
	HistoryCharBudget int

	// AttemptTimeout bounds one model's streaming attempt. Zero disables the
	// ceiling (not recommended; a hung stream then holds the single-flight
	// lock until the transport gives up).
	AttemptTimeout time.Duration
}

// Deps carries the orchestrator's injected collaborators.
type Deps struct {
	// Transcriber is the speech-to-text boundary. Required.
	Transcriber transcribe.Provider

	// Generator is the streaming generation boundary. Required.
	Generator generate.Provider

	// History is the bounded conversation store. Required.
	History *history.Store

	// Settings supplies preferred model and voice context. Required.
	Settings SettingsSource

	// Bus receives all pipeline events. Required.
	Bus *event.Bus

	// Recorder persists debug audio copies. Optional; nil disables recording.
	Recorder *recording.Writer

	// Breakers supplies per-model cooldown state. Optional; nil disables
	// circuit breaking and every candidate is always attempted.
	Breakers *resilience.ModelBreakers

	// Metrics records pipeline telemetry. Optional; nil disables recording.
	Metrics *observe.Metrics
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator replaces the request id generator. Used in tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// Orchestrator drives voice requests end to end. All exported methods are
// safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	deps  Deps
	now   func() time.Time
	newID func() string

	mu        sync.Mutex
	busy      bool
	currentID string
	cancel    context.CancelCauseFunc
}

// New creates an Orchestrator. Required Deps fields must be non-nil; this is
// a programming error caught by panic at construction rather than a runtime
// check on every request.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	switch {
	case deps.Transcriber == nil:
		panic("voice: Deps.Transcriber is required")
	case deps.Generator == nil:
		panic("voice: Deps.Generator is required")
	case deps.History == nil:
		panic("voice: Deps.History is required")
	case deps.Settings == nil:
		panic("voice: Deps.Settings is required")
	case deps.Bus == nil:
		panic("voice: Deps.Bus is required")
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	o := &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a request is currently in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// HandleVoiceRequest drives req through the full pipeline and blocks until it
// terminates. It returns the final result, or one of the package sentinel
// errors; it never panics past this boundary and never returns a partial
// answer.
func (o *Orchestrator) HandleVoiceRequest(ctx context.Context, req Request) (*Result, error) {
	// Admission: hard single-flight, no queuing.
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		slog.Debug("voice request rejected, pipeline busy")
		o.countRequest(ctx, "rejected")
		return nil, ErrBusy
	}
	requestID := o.newID()
	runCtx, cancel := context.WithCancelCause(ctx)
	o.busy = true
	o.currentID = requestID
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel(nil)
		o.mu.Lock()
		o.busy = false
		o.currentID = ""
		o.cancel = nil
		o.mu.Unlock()
	}()

	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveRequests.Add(ctx, 1)
		defer o.deps.Metrics.ActiveRequests.Add(ctx, -1)
	}

	res, err := o.run(runCtx, requestID, req)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			slog.Info("voice request aborted", "request_id", requestID)
			o.deps.Bus.Publish(event.Event{Kind: event.KindAborted, Payload: event.Aborted{RequestID: requestID}})
			o.countRequest(ctx, "aborted")
			return nil, err
		}
		slog.Error("voice request failed", "request_id", requestID, "err", err)
		o.deps.Bus.Publish(event.Event{Kind: event.KindError, Payload: event.Error{RequestID: requestID, Message: err.Error()}})
		o.countRequest(ctx, "failed")
		return nil, err
	}

	o.deps.Bus.Publish(event.Event{Kind: event.KindResult, Payload: event.Result{
		RequestID: res.RequestID,
		Question:  res.Question,
		Answer:    res.Answer,
		Model:     res.Model,
	}})
	o.countRequest(ctx, "ok")
	return res, nil
}

// Abort cancels the in-flight request, if any. The pipeline discards its
// partial answer, emits exactly one Aborted event, and leaves history
// untouched. Reports whether a request was actually aborted.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.busy || o.cancel == nil {
		return false
	}
	slog.Info("aborting voice request", "request_id", o.currentID)
	o.cancel(ErrAborted)
	return true
}

// ResetAll aborts any in-flight request, clears conversation history and all
// model cooldown state, and emits a Reset event so UI consumers can fully
// rehide.
func (o *Orchestrator) ResetAll() {
	o.Abort()
	o.deps.History.Clear()
	if o.deps.Breakers != nil {
		o.deps.Breakers.Reset()
	}
	o.deps.Bus.Publish(event.Event{Kind: event.KindReset})
	slog.Info("voice pipeline reset")
}

// run executes the pipeline body. All failures return an error; the caller
// translates it into events and metrics.
func (o *Orchestrator) run(ctx context.Context, requestID string, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}

	o.status(requestID, event.PhaseRecordingReceived, "Processing voice question…", "")

	// Debug copy of the audio. Best-effort: the pipeline transcribes from the
	// in-memory buffer either way.
	if o.deps.Recorder != nil {
		if path, err := o.deps.Recorder.Save(req.Audio, requestID, ""); err != nil {
			slog.Warn("debug recording failed, continuing", "request_id", requestID, "err", err)
		} else {
			slog.Debug("debug recording saved", "request_id", requestID, "path", path)
		}
	}

	// Transcription.
	language := req.Language
	if language == "" {
		language = o.cfg.DefaultLanguage
	}
	o.status(requestID, event.PhaseTranscribing, "Transcribing audio…", "")

	sttStart := o.now()
	tr, err := o.deps.Transcriber.Transcribe(ctx, transcribe.Request{
		Audio:    req.Audio,
		Language: language,
	})
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrAborted) {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	question := strings.TrimSpace(tr.Text)
	if question == "" {
		return nil, ErrEmptyTranscript
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.STTDuration.Record(ctx, o.now().Sub(sttStart).Seconds())
	}
	slog.Info("transcription complete", "request_id", requestID, "chars", len(question))
	o.status(requestID, event.PhaseTranscribed, "Question transcribed", question)

	// Prompt assembly: voice context, budgeted history window, question.
	promptText := prompt.Build(
		o.deps.Settings.VoiceContext(),
		o.deps.History.RenderContextWindow(o.cfg.HistoryCharBudget),
		question,
	)

	// Generation with sequential model fallback.
	candidates := candidateModels(req.ModelOverride, o.deps.Settings.PreferredModel(), o.cfg.FallbackModels)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate models configured", ErrAllModelsFailed)
	}

	var (
		answer  strings.Builder
		winner  string
		lastErr error
	)
	for _, model := range candidates {
		if cause := context.Cause(ctx); cause != nil {
			if errors.Is(cause, ErrAborted) {
				return nil, ErrAborted
			}
			return nil, fmt.Errorf("voice: request context cancelled: %w", cause)
		}

		o.status(requestID, event.PhaseGenerating, "Thinking… ("+model+")", question)

		attempt := func() error {
			return o.streamModel(ctx, requestID, model, promptText, &answer)
		}

		genStart := o.now()
		if o.deps.Breakers != nil {
			err = o.deps.Breakers.Attempt(model, attempt)
		} else {
			err = attempt()
		}

		if err == nil {
			winner = model
			if o.deps.Metrics != nil {
				o.deps.Metrics.GenerationDuration.Record(ctx, o.now().Sub(genStart).Seconds())
				o.deps.Metrics.RecordModelAttempt(ctx, model, "ok")
			}
			break
		}

		// A failed attempt abandons that model's partial answer entirely.
		answer.Reset()

		if cause := context.Cause(ctx); errors.Is(cause, ErrAborted) {
			return nil, ErrAborted
		}
		if errors.Is(err, resilience.ErrCoolingDown) {
			slog.Debug("skipping model on cooldown", "request_id", requestID, "model", model)
			continue
		}

		lastErr = err
		if o.deps.Metrics != nil {
			o.deps.Metrics.RecordModelAttempt(ctx, model, "failed")
		}
		slog.Warn("model attempt failed, trying next",
			"request_id", requestID, "model", model, "err", err)
	}

	if winner == "" {
		if lastErr == nil {
			lastErr = resilience.ErrCoolingDown
		}
		return nil, fmt.Errorf("%w: %v", ErrAllModelsFailed, lastErr)
	}

	finalAnswer := answer.String()
	if strings.TrimSpace(finalAnswer) == "" {
		finalAnswer = noAnswerPlaceholder
	}

	// History mutation happens only on this success path. The store itself
	// no-ops when retention is disabled.
	o.deps.History.Append(history.Turn{
		Question:  question,
		Answer:    finalAnswer,
		Timestamp: o.now(),
	})

	return &Result{
		RequestID: requestID,
		Question:  question,
		Answer:    finalAnswer,
		Model:     winner,
	}, nil
}

// streamModel runs one model's streaming attempt, relaying each delta as a
// Partial event in chunk order and accumulating the answer. Any error leaves
// the accumulated text to be discarded by the caller.
func (o *Orchestrator) streamModel(ctx context.Context, requestID, model, promptText string, answer *strings.Builder) error {
	attemptCtx := ctx
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	ch, err := o.deps.Generator.Stream(attemptCtx, generate.Request{
		Model:  model,
		Prompt: promptText,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-attemptCtx.Done():
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return fmt.Errorf("model %q attempt timed out after %v", model, o.cfg.AttemptTimeout)

		case chunk, ok := <-ch:
			if !ok {
				// Provider contract: a Done or Err chunk precedes close. A bare
				// close means the stream was cut short.
				return fmt.Errorf("model %q stream closed without done marker", model)
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			if chunk.Delta != "" {
				answer.WriteString(chunk.Delta)
				o.deps.Bus.Publish(event.Event{Kind: event.KindPartial, Payload: event.Partial{
					RequestID: requestID,
					Delta:     chunk.Delta,
					Answer:    answer.String(),
					Model:     model,
				}})
				if o.deps.Metrics != nil {
					o.deps.Metrics.PartialChunks.Add(ctx, 1)
				}
			}
			if chunk.Done {
				return nil
			}
		}
	}
}

// status publishes a Status event for requestID.
func (o *Orchestrator) status(requestID string, phase event.Phase, message, question string) {
	o.deps.Bus.Publish(event.Event{Kind: event.KindStatus, Payload: event.Status{
		RequestID: requestID,
		Phase:     phase,
		Message:   message,
		Question:  question,
	}})
}

// countRequest records a request outcome when metrics are wired.
func (o *Orchestrator) countRequest(ctx context.Context, status string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordVoiceRequest(ctx, status)
	}
}
