package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps a domain error onto an HTTP status and writes it.
func WriteError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// StatusFor classifies err for HTTP callers.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dialogue.ErrInvalidEvent), errors.Is(err, templates.ErrInvalidTemplate), errors.Is(err, assessment.ErrInvalidAssessment):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, dialogue.ErrSessionNotFound), errors.Is(err, templates.ErrTemplateNotFound), errors.Is(err, assessment.ErrReportNotFound), errors.Is(err, assessment.ErrReplayNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dialogue.ErrSessionBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, dialogue.ErrChannelMismatch):
		return http.StatusConflict, "channel_mismatch"
	case errors.Is(err, dialogue.ErrSessionClosed):
		return http.StatusGone, "closed"
	}
	return http.StatusInternalServerError, "internal"
}
