// Package server exposes the voice pipeline over a local HTTP command surface
// plus a WebSocket event stream.
//
// The command surface accepts audio submissions, abort/reset commands, and
// settings reads/writes; the event stream pushes the pipeline's typed events
// (status, partial, result, error, aborted, reset) to the overlay UI. The
// server is meant to bind to loopback only — it carries no auth of its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlay/voxlay/internal/event"
	"github.com/voxlay/voxlay/internal/history"
	"github.com/voxlay/voxlay/internal/settings"
	"github.com/voxlay/voxlay/internal/voice"
)

// readyCheckTimeout bounds a single readiness probe of a backend.
const readyCheckTimeout = 5 * time.Second

// shutdownTimeout bounds graceful drain of in-flight requests on stop.
const shutdownTimeout = 10 * time.Second

// Pipeline is the subset of the voice orchestrator the server drives.
type Pipeline interface {
	HandleVoiceRequest(ctx context.Context, req voice.Request) (*voice.Result, error)
	Abort() bool
	ResetAll()
	Busy() bool
}

// Checker is a named readiness probe for one backend dependency.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires the pipeline, stores, and event bus to HTTP routes.
type Server struct {
	addr     string
	pipeline Pipeline
	history  *history.Store
	settings *settings.Store
	bus      *event.Bus
	checkers []Checker
}

// New creates a Server listening on addr once Run is called.
func New(addr string, pipeline Pipeline, hist *history.Store, set *settings.Store, bus *event.Bus, checkers ...Checker) *Server {
	return &Server{
		addr:     addr,
		pipeline: pipeline,
		history:  hist,
		settings: set,
		bus:      bus,
		checkers: checkers,
	}
}

// Handler returns the complete route table. Exposed separately from Run so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/voice", s.handleVoice)
	mux.HandleFunc("POST /v1/abort", s.handleAbort)
	mux.HandleFunc("POST /v1/reset", s.handleReset)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings/model", s.handleSetModel)
	mux.HandleFunc("PUT /v1/settings/voice-context", s.handleSetVoiceContext)
	mux.HandleFunc("PUT /v1/settings/history-enabled", s.handleSetHistoryEnabled)

	mux.HandleFunc("GET /v1/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /v1/history", s.handleClearHistory)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run serves until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

// statusResult is the JSON body of health endpoints.
type statusResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is the liveness probe. A process that can serve HTTP is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResult{Status: "ok"})
}

// handleReadyz probes every registered backend checker sequentially.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := statusResult{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !allOK {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status code. On encoding failure it falls
// back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError maps a pipeline error to an HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, voice.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, voice.ErrEmptyAudio):
		code = http.StatusBadRequest
	case errors.Is(err, voice.ErrAborted):
		// The client asked for the abort; report it as a client-visible
		// terminal state, not a server fault.
		code = http.StatusConflict
	case errors.Is(err, voice.ErrEmptyTranscript):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}
