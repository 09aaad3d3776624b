package voice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxlay/voxlay/internal/event"
	"github.com/voxlay/voxlay/internal/history"
	"github.com/voxlay/voxlay/internal/resilience"
	"github.com/voxlay/voxlay/internal/settings"
	"github.com/voxlay/voxlay/internal/voice"
	"github.com/voxlay/voxlay/pkg/provider/generate"
	genmock "github.com/voxlay/voxlay/pkg/provider/generate/mock"
	sttmock "github.com/voxlay/voxlay/pkg/provider/transcribe/mock"
)

// ---- fixture ----------------------------------------------------------------

type fixture struct {
	orch        *voice.Orchestrator
	transcriber *sttmock.Provider
	generator   *genmock.Provider
	history     *history.Store
	settings    *settings.Store
	bus         *event.Bus
	events      <-chan event.Event
}

// newFixture wires an orchestrator around mocks. The transcriber answers with
// transcript; generation behaviour is scripted per test.
func newFixture(t *testing.T, transcript string, cfg voice.Config) *fixture {
	t.Helper()

	f := &fixture{
		transcriber: &sttmock.Provider{},
		generator:   genmock.NewProvider(),
		history:     history.NewStore(15),
		settings:    settings.New(""),
		bus:         event.NewBus(1024),
	}
	f.transcriber.Result.Text = transcript

	if cfg.FallbackModels == nil {
		cfg.FallbackModels = []string{"primary"}
	}
	f.orch = voice.New(cfg, voice.Deps{
		Transcriber: f.transcriber,
		Generator:   f.generator,
		History:     f.history,
		Settings:    f.settings,
		Bus:         f.bus,
	})

	events, cancel := f.bus.Subscribe()
	t.Cleanup(cancel)
	f.events = events
	return f
}

// drainEvents collects everything currently buffered for the test subscriber.
func (f *fixture) drainEvents() []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func countKind(events []event.Event, kind event.Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func doneStream(deltas ...string) []generate.Chunk {
	chunks := make([]generate.Chunk, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, generate.Chunk{Delta: d})
	}
	return append(chunks, generate.Chunk{Done: true})
}

// ---- happy path -------------------------------------------------------------

func TestHandleVoiceRequest_Success_RoundTrip(t *testing.T) {
	f := newFixture(t, "what is a goroutine?", voice.Config{})
	f.generator.SetStream("primary", doneStream("A goroutine ", "is a ", "lightweight thread."))

	res, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1, 2}})
	if err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}

	if res.Question != "what is a goroutine?" {
		t.Errorf("Question = %q; want the transcript verbatim", res.Question)
	}
	if res.Answer != "A goroutine is a lightweight thread." {
		t.Errorf("Answer = %q; want the concatenated deltas", res.Answer)
	}
	if res.Model != "primary" {
		t.Errorf("Model = %q; want primary", res.Model)
	}
	if res.RequestID == "" {
		t.Error("RequestID empty")
	}

	turns := f.history.Turns()
	if len(turns) != 1 {
		t.Fatalf("history Len = %d; want 1", len(turns))
	}
	if turns[0].Question != res.Question || turns[0].Answer != res.Answer {
		t.Errorf("history turn = %+v; want the result's Q/A", turns[0])
	}

	events := f.drainEvents()
	if got := countKind(events, event.KindResult); got != 1 {
		t.Errorf("Result events = %d; want 1", got)
	}
	if got := countKind(events, event.KindError); got != 0 {
		t.Errorf("Error events = %d; want 0", got)
	}
	last := events[len(events)-1]
	if last.Kind != event.KindResult {
		t.Errorf("last event kind = %v; want KindResult", last.Kind)
	}
}

func TestHandleVoiceRequest_PartialsAreOrderedAndCumulative(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	f.generator.SetStream("primary", doneStream("a", "b", "c"))

	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}}); err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}

	wantDeltas := []string{"a", "b", "c"}
	wantAnswers := []string{"a", "ab", "abc"}
	i := 0
	for _, e := range f.drainEvents() {
		if e.Kind != event.KindPartial {
			continue
		}
		p := e.Payload.(event.Partial)
		if i >= len(wantDeltas) {
			t.Fatalf("unexpected extra partial: %+v", p)
		}
		if p.Delta != wantDeltas[i] || p.Answer != wantAnswers[i] {
			t.Errorf("partial %d = {Delta:%q Answer:%q}; want {%q %q}",
				i, p.Delta, p.Answer, wantDeltas[i], wantAnswers[i])
		}
		i++
	}
	if i != len(wantDeltas) {
		t.Errorf("got %d partials; want %d", i, len(wantDeltas))
	}
}

func TestHandleVoiceRequest_EmptyAnswer_UsesPlaceholder(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	f.generator.SetStream("primary", doneStream())

	res, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}
	if res.Answer != "No answer generated." {
		t.Errorf("Answer = %q; want the placeholder", res.Answer)
	}
	if turns := f.history.Turns(); len(turns) != 1 || turns[0].Answer != "No answer generated." {
		t.Errorf("history = %+v; want the placeholder answer retained", turns)
	}
}

// ---- admission --------------------------------------------------------------

func TestHandleVoiceRequest_EmptyAudio_RejectedBeforeTranscription(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{})
	if !errors.Is(err, voice.ErrEmptyAudio) {
		t.Fatalf("err = %v; want ErrEmptyAudio", err)
	}
	if f.transcriber.CallCount() != 0 {
		t.Error("transcriber was called for empty audio")
	}
	if len(f.generator.Calls) != 0 {
		t.Error("generator was called for empty audio")
	}
}

func TestHandleVoiceRequest_ConcurrentSubmission_ReturnsErrBusy(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	release := make(chan struct{})
	f.generator.SetBlocking("primary", []generate.Chunk{{Delta: "x"}}, release)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
		firstDone <- err
	}()

	// Wait until the first request is past transcription and streaming.
	deadline := time.After(2 * time.Second)
	for streaming := false; !streaming; {
		select {
		case e := <-f.events:
			streaming = e.Kind == event.KindPartial
		case <-deadline:
			t.Fatal("first request never started streaming")
		}
	}

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{2}})
	if !errors.Is(err, voice.ErrBusy) {
		t.Fatalf("second request err = %v; want ErrBusy", err)
	}
	if f.transcriber.CallCount() != 1 {
		t.Errorf("transcriber calls = %d; rejection must not reach transcription", f.transcriber.CallCount())
	}

	close(release)
	<-firstDone

	// The slot is free again: a third request is admitted.
	f.generator.SetStream("primary", doneStream("ok"))
	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{3}}); err != nil {
		t.Errorf("third request after release: %v", err)
	}
}

// ---- transcription failures -------------------------------------------------

func TestHandleVoiceRequest_TranscriptionError_NoGeneration(t *testing.T) {
	f := newFixture(t, "", voice.Config{})
	f.transcriber.Err = errors.New("whisper down")

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if !errors.Is(err, voice.ErrTranscriptionFailed) {
		t.Fatalf("err = %v; want ErrTranscriptionFailed", err)
	}
	if len(f.generator.Calls) != 0 {
		t.Error("generator called after transcription failure")
	}
	if f.history.Len() != 0 {
		t.Error("history mutated on failure")
	}
	if got := countKind(f.drainEvents(), event.KindError); got != 1 {
		t.Errorf("Error events = %d; want 1", got)
	}
}

func TestHandleVoiceRequest_WhitespaceTranscript_ReturnsErrEmptyTranscript(t *testing.T) {
	f := newFixture(t, "   \n ", voice.Config{})

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if !errors.Is(err, voice.ErrEmptyTranscript) {
		t.Fatalf("err = %v; want ErrEmptyTranscript", err)
	}
	if len(f.generator.Calls) != 0 {
		t.Error("generator called for empty transcript")
	}
}

// ---- model fallback ---------------------------------------------------------

func TestHandleVoiceRequest_FallsThroughToThirdModel(t *testing.T) {
	f := newFixture(t, "q", voice.Config{
		FallbackModels: []string{"m1", "m2", "m3"},
	})
	f.generator.SetError("m1", errors.New("HTTP 500"))
	f.generator.SetError("m2", errors.New("connection refused"))
	f.generator.SetStream("m3", doneStream("a", "b"))

	res, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}

	if res.Answer != "ab" {
		t.Errorf("Answer = %q; want %q", res.Answer, "ab")
	}
	if res.Model != "m3" {
		t.Errorf("Model = %q; want m3", res.Model)
	}
	if got := f.generator.Models(); len(got) != 3 || got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Errorf("attempt order = %v; want [m1 m2 m3]", got)
	}

	// No partial may carry a failed model's name.
	for _, e := range f.drainEvents() {
		if e.Kind != event.KindPartial {
			continue
		}
		if p := e.Payload.(event.Partial); p.Model != "m3" {
			t.Errorf("partial references model %q; want m3 only", p.Model)
		}
	}
	if turns := f.history.Turns(); len(turns) != 1 || turns[0].Answer != "ab" {
		t.Errorf("history = %+v; want only the winning answer", turns)
	}
}

func TestHandleVoiceRequest_MidStreamFailure_DiscardsPartialAnswer(t *testing.T) {
	f := newFixture(t, "q", voice.Config{
		FallbackModels: []string{"flaky", "solid"},
	})
	f.generator.SetStream("flaky", []generate.Chunk{{Delta: "junk"}, {Err: errors.New("mid-stream crash")}})
	f.generator.SetStream("solid", doneStream("clean"))

	res, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}

	// The failed model's streamed text must not leak into the final answer.
	if res.Answer != "clean" {
		t.Errorf("Answer = %q; want %q", res.Answer, "clean")
	}
	if turns := f.history.Turns(); len(turns) != 1 || turns[0].Answer != "clean" {
		t.Errorf("history = %+v; want the winning answer only", turns)
	}
}

func TestHandleVoiceRequest_OverrideAndPreferredOrdering(t *testing.T) {
	f := newFixture(t, "q", voice.Config{
		FallbackModels: []string{"fb1", "fb2"},
	})
	f.settings.SetPreferredModel("pref")
	f.generator.DefaultErr = errors.New("unavailable")

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{
		Audio:         []byte{1},
		ModelOverride: "override",
	})
	if !errors.Is(err, voice.ErrAllModelsFailed) {
		t.Fatalf("err = %v; want ErrAllModelsFailed", err)
	}

	want := []string{"override", "pref", "fb1", "fb2"}
	got := f.generator.Models()
	if len(got) != len(want) {
		t.Fatalf("attempts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestHandleVoiceRequest_AllModelsFail_HistoryUnchanged(t *testing.T) {
	f := newFixture(t, "q", voice.Config{FallbackModels: []string{"m1", "m2"}})
	f.history.Append(history.Turn{Question: "earlier", Answer: "turn"})
	f.generator.DefaultErr = errors.New("everything is down")

	_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if !errors.Is(err, voice.ErrAllModelsFailed) {
		t.Fatalf("err = %v; want ErrAllModelsFailed", err)
	}

	if got := f.history.Len(); got != 1 {
		t.Errorf("history Len = %d; want the pre-existing turn only", got)
	}
	events := f.drainEvents()
	if got := countKind(events, event.KindError); got != 1 {
		t.Errorf("Error events = %d; want 1", got)
	}
	if got := countKind(events, event.KindResult); got != 0 {
		t.Errorf("Result events = %d; want 0", got)
	}
}

func TestHandleVoiceRequest_AttemptTimeout_FailsOver(t *testing.T) {
	f := newFixture(t, "q", voice.Config{
		FallbackModels: []string{"hung", "healthy"},
		AttemptTimeout: 50 * time.Millisecond,
	})
	release := make(chan struct{})
	defer close(release)
	f.generator.SetBlocking("hung", []generate.Chunk{{Delta: "never finishes"}}, release)
	f.generator.SetStream("healthy", doneStream("saved"))

	res, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}
	if res.Model != "healthy" || res.Answer != "saved" {
		t.Errorf("result = {%q %q}; want the fallback model's answer", res.Model, res.Answer)
	}
}

// ---- circuit breaking -------------------------------------------------------

func TestHandleVoiceRequest_TrippedModelSkippedOnNextRequest(t *testing.T) {
	f := newFixture(t, "q", voice.Config{FallbackModels: []string{"flaky", "steady"}})

	// Rebuild with breakers wired; the fixture default leaves them off.
	breakers := resilience.NewModelBreakers(resilience.Config{MaxFailures: 1, Cooldown: time.Hour})
	f.orch = voice.New(
		voice.Config{FallbackModels: []string{"flaky", "steady"}},
		voice.Deps{
			Transcriber: f.transcriber,
			Generator:   f.generator,
			History:     f.history,
			Settings:    f.settings,
			Bus:         f.bus,
			Breakers:    breakers,
		},
	)

	f.generator.SetError("flaky", errors.New("connection refused"))
	f.generator.SetStream("steady", doneStream("ok"))

	for i := 0; i < 2; i++ {
		if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	// First request attempts flaky then steady; the second must skip flaky.
	want := []string{"flaky", "steady", "steady"}
	got := f.generator.Models()
	if len(got) != len(want) {
		t.Fatalf("attempts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d = %q; want %q", i, got[i], want[i])
		}
	}
}

// ---- abort / reset ----------------------------------------------------------

func TestAbort_MidStream_EmitsOneAbortedEvent(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	release := make(chan struct{})
	defer close(release)
	f.generator.SetBlocking("primary", []generate.Chunk{{Delta: "par"}}, release)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}})
		done <- err
	}()

	// Wait for the first partial so the abort lands mid-stream.
	deadline := time.After(2 * time.Second)
	for seen := false; !seen; {
		select {
		case e := <-f.events:
			seen = e.Kind == event.KindPartial
		case <-deadline:
			t.Fatal("timed out waiting for a partial event")
		}
	}

	if !f.orch.Abort() {
		t.Fatal("Abort returned false with a request in flight")
	}

	select {
	case err := <-done:
		if !errors.Is(err, voice.ErrAborted) {
			t.Fatalf("err = %v; want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not terminate after Abort")
	}

	events := f.drainEvents()
	if got := countKind(events, event.KindAborted); got != 1 {
		t.Errorf("Aborted events = %d; want exactly 1", got)
	}
	if got := countKind(events, event.KindError); got != 0 {
		t.Errorf("Error events = %d; abort must not surface as an error", got)
	}
	if got := countKind(events, event.KindResult); got != 0 {
		t.Errorf("Result events = %d; want 0", got)
	}
	if f.history.Len() != 0 {
		t.Error("history mutated by an aborted request")
	}
	if f.orch.Busy() {
		t.Error("orchestrator still busy after abort completed")
	}
}

func TestAbort_NoRequestInFlight_ReturnsFalse(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	if f.orch.Abort() {
		t.Error("Abort() = true with nothing in flight")
	}
	if got := countKind(f.drainEvents(), event.KindAborted); got != 0 {
		t.Errorf("Aborted events = %d; want 0", got)
	}
}

func TestResetAll_ClearsHistoryAndEmitsReset(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	f.history.Append(history.Turn{Question: "old", Answer: "turn"})

	f.orch.ResetAll()

	if f.history.Len() != 0 {
		t.Error("history not cleared by ResetAll")
	}
	if got := countKind(f.drainEvents(), event.KindReset); got != 1 {
		t.Errorf("Reset events = %d; want 1", got)
	}
}

// ---- history toggle ---------------------------------------------------------

func TestHandleVoiceRequest_HistoryDisabled_NoAppend(t *testing.T) {
	f := newFixture(t, "q", voice.Config{})
	f.history.SetEnabled(false)
	f.generator.SetStream("primary", doneStream("answer"))

	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}}); err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}
	if f.history.Len() != 0 {
		t.Error("disabled history retained a turn")
	}
}

// ---- prompt assembly --------------------------------------------------------

func TestHandleVoiceRequest_PromptCarriesContextHistoryAndQuestion(t *testing.T) {
	f := newFixture(t, "third question", voice.Config{HistoryCharBudget: 2000})
	f.settings.SetVoiceContext("I prefer short answers.")
	f.history.Append(history.Turn{Question: "first", Answer: "one"})
	f.generator.SetStream("primary", doneStream("three"))

	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}}); err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}

	if len(f.generator.Calls) != 1 {
		t.Fatalf("generator calls = %d; want 1", len(f.generator.Calls))
	}
	prompt := f.generator.Calls[0].Req.Prompt
	want := "I prefer short answers.\n\nPrevious conversation:\nQ: first\nA: one\n\nQuestion: third question"
	if prompt != want {
		t.Errorf("prompt = %q; want %q", prompt, want)
	}
}

func TestHandleVoiceRequest_LanguageHintForwarded(t *testing.T) {
	f := newFixture(t, "q", voice.Config{DefaultLanguage: "en"})
	f.generator.SetStream("primary", doneStream("a"))

	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}, Language: "de"}); err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}
	if got := f.transcriber.Calls[0].Req.Language; got != "de" {
		t.Errorf("forwarded language = %q; want de", got)
	}

	if _, err := f.orch.HandleVoiceRequest(context.Background(), voice.Request{Audio: []byte{1}}); err != nil {
		t.Fatalf("HandleVoiceRequest: %v", err)
	}
	if got := f.transcriber.Calls[1].Req.Language; got != "en" {
		t.Errorf("default language = %q; want en", got)
	}
}
