package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/voxlay/voxlay/internal/history"
	"github.com/voxlay/voxlay/internal/voice"
)

// maxVoiceUpload caps the accepted recording size. Matches the transcription
// backend's own upload ceiling.
const maxVoiceUpload = 25 << 20

// handleVoice accepts one recording and runs it through the pipeline,
// blocking until the request terminates. Partials arrive on the event stream;
// the HTTP response carries the terminal result.
//
// The body is either multipart/form-data with an "audio" file part and
// optional "model" and "language" fields, or raw audio bytes with the
// overrides in query parameters.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	req, err := parseVoiceRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := s.pipeline.HandleVoiceRequest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseVoiceRequest extracts the audio and overrides from either supported
// body shape.
func parseVoiceRequest(r *http.Request) (voice.Request, error) {
	var req voice.Request

	ct := r.Header.Get("Content-Type")
	if ct != "" && len(ct) >= 9 && ct[:9] == "multipart" {
		if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
			return req, fmt.Errorf("parse multipart body: %w", err)
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			return req, fmt.Errorf("missing audio part: %w", err)
		}
		defer file.Close()

		audio, err := io.ReadAll(io.LimitReader(file, maxVoiceUpload+1))
		if err != nil {
			return req, fmt.Errorf("read audio part: %w", err)
		}
		if len(audio) > maxVoiceUpload {
			return req, fmt.Errorf("audio exceeds %d byte limit", maxVoiceUpload)
		}
		req.Audio = audio
		req.ModelOverride = r.FormValue("model")
		req.Language = r.FormValue("language")
		return req, nil
	}

	audio, err := io.ReadAll(io.LimitReader(r.Body, maxVoiceUpload+1))
	if err != nil {
		return req, fmt.Errorf("read request body: %w", err)
	}
	if len(audio) > maxVoiceUpload {
		return req, fmt.Errorf("audio exceeds %d byte limit", maxVoiceUpload)
	}
	req.Audio = audio
	req.ModelOverride = r.URL.Query().Get("model")
	req.Language = r.URL.Query().Get("language")
	return req, nil
}

// handleAbort cancels the in-flight request, if any.
func (s *Server) handleAbort(w http.ResponseWriter, _ *http.Request) {
	aborted := s.pipeline.Abort()
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
}

// handleReset aborts, clears history and cooldown state, and notifies the UI.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.pipeline.ResetAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// settingsView is the read shape of the settings endpoints.
type settingsView struct {
	PreferredModel string `json:"preferredModel"`
	VoiceContext   string `json:"voiceContext"`
	HistoryEnabled bool   `json:"historyEnabled"`
	Busy           bool   `json:"busy"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settingsView{
		PreferredModel: s.settings.PreferredModel(),
		VoiceContext:   s.settings.VoiceContext(),
		HistoryEnabled: s.settings.HistoryEnabled(),
		Busy:           s.pipeline.Busy(),
	})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.settings.SetPreferredModel(body.Model)
	slog.Info("preferred model updated", "model", body.Model)
	writeJSON(w, http.StatusOK, map[string]string{"model": body.Model})
}

func (s *Server) handleSetVoiceContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VoiceContext string `json:"voiceContext"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.settings.SetVoiceContext(body.VoiceContext)
	writeJSON(w, http.StatusOK, map[string]string{"voiceContext": s.settings.VoiceContext()})
}

func (s *Server) handleSetHistoryEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	// The settings store persists the preference; the history store enforces
	// it on append. Both must agree.
	s.settings.SetHistoryEnabled(body.Enabled)
	s.history.SetEnabled(body.Enabled)
	slog.Info("history retention toggled", "enabled", body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

// historyView is the read shape of GET /v1/history.
type historyView struct {
	Enabled bool           `json:"enabled"`
	Turns   []history.Turn `json:"turns"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, _ *http.Request) {
	turns := s.history.Turns()
	if turns == nil {
		turns = []history.Turn{}
	}
	writeJSON(w, http.StatusOK, historyView{
		Enabled: s.history.Enabled(),
		Turns:   turns,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.history.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// decodeBody strictly decodes a small JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
