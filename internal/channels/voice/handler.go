// Package voice drives the dialogue engine from telephony webhooks: each
// prompt is spoken inside a speech <Gather>, and the recogniser transcript
// comes back as the next turn.
package voice

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Engine is the part of dialogue.Engine the voice channel drives.
type Engine interface {
	StartSession(ctx context.Context, req dialogue.StartRequest) (*dialogue.TurnResult, error)
	SubmitTurn(ctx context.Context, sessionID string, channel catalog.Channel, ev dialogue.Event) (*dialogue.TurnResult, error)
}

// Config controls how prompts are spoken and how webhooks are verified.
type Config struct {
	// PublicBaseURL is the externally visible origin used for callback URLs
	// and signature checks. Empty derives it from the request.
	PublicBaseURL string
	// AuthToken verifies webhook signatures. Empty disables verification.
	AuthToken string
	Language  string
	Voice     string
	// SpeechTimeout is passed through to <Gather>; "auto" ends on silence.
	SpeechTimeout string
	// NoInputTimeout is how many seconds to wait for speech to begin.
	NoInputTimeout int
}

const (
	defaultLanguage      = "zh-TW"
	defaultSpeechTimeout = "auto"
	defaultNoInput       = 6

	idempotencyHeader = "I-Twilio-Idempotency-Token"
	busyRetryPause    = 1

	technicalDifficulty = "抱歉，系統暫時無法處理，我們會再與您聯繫。"
	alreadyFinished     = "這次的回報已經完成，謝謝您。"
)

// Handler serves the voice webhooks.
type Handler struct {
	engine Engine
	cfg    Config
	logger *logging.Logger
	nonce  func() string
}

func NewHandler(engine Engine, cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SpeechTimeout == "" {
		cfg.SpeechTimeout = defaultSpeechTimeout
	}
	if cfg.NoInputTimeout <= 0 {
		cfg.NoInputTimeout = defaultNoInput
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Handler{engine: engine, cfg: cfg, logger: logger, nonce: func() string { return uuid.NewString()[:8] }}
}

// Routes mounts the webhooks on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/incoming", h.HandleIncoming)
	r.Post("/gather", h.HandleGather)
	r.Post("/status", h.HandleStatus)
}

// SessionIDForCall maps a provider call id onto a dialogue session id.
func SessionIDForCall(callSid string) string { return "call_" + callSid }

// HandleIncoming answers a new call, which may be an outbound follow-up call
// carrying ?patient_id= or an inbound call identified by the caller number.
func (h *Handler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}
	callSid := r.PostForm.Get("CallSid")
	if callSid == "" {
		http.Error(w, "CallSid required", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	patientID := strings.TrimSpace(q.Get("patient_id"))
	if patientID == "" {
		patientID = strings.TrimSpace(r.PostForm.Get("From"))
	}
	req := dialogue.StartRequest{
		SessionID:   SessionIDForCall(callSid),
		PatientID:   patientID,
		PatientName: q.Get("patient_name"),
		Channel:     catalog.ChannelVoice,
	}
	if raw := q.Get("post_op_day"); raw != "" {
		if day, err := strconv.Atoi(raw); err == nil && day >= 0 {
			req.PostOpDay = &day
		}
	}

	res, err := h.engine.StartSession(r.Context(), req)
	if err != nil {
		h.logger.Error("voice: start failed", "call_sid", callSid, "error", err)
		h.write(w, h.goodbye(technicalDifficulty))
		return
	}
	h.logger.Info("voice: call answered", "call_sid", callSid, "session_id", res.SessionID)
	h.write(w, h.render(r.Context(), res, ""))
}

// HandleGather receives the recogniser result for the previous prompt.
func (h *Handler) HandleGather(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session required", http.StatusBadRequest)
		return
	}

	ev := dialogue.NoInput()
	if transcript := strings.TrimSpace(r.PostForm.Get("SpeechResult")); transcript != "" {
		ev = dialogue.Speech(transcript)
	}
	eventID := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if eventID == "" {
		if turn := r.URL.Query().Get("turn"); turn != "" {
			eventID = sessionID + ":" + turn
		}
	}
	ev = ev.WithID(eventID)

	res, err := h.engine.SubmitTurn(r.Context(), sessionID, catalog.ChannelVoice, ev)
	switch {
	case err == nil:
		h.write(w, h.render(r.Context(), res, eventID))
	case errors.Is(err, dialogue.ErrSessionBusy):
		// A retried webhook raced the original: come back to the same URL.
		h.write(w, Response{
			Pause:    &Pause{Length: busyRetryPause},
			Redirect: &Redirect{Method: http.MethodPost, URL: externalURL(r, h.cfg.PublicBaseURL)},
		})
	case errors.Is(err, dialogue.ErrSessionClosed):
		h.write(w, h.goodbye(alreadyFinished))
	default:
		status, _ := handlers.StatusFor(err)
		h.logger.Error("voice: turn failed", "session_id", sessionID, "status", status, "error", err)
		h.write(w, h.goodbye(technicalDifficulty))
	}
}

// HandleStatus turns call lifecycle callbacks into end or abandon events.
// A completed call that is still mid-assessment is a hang-up, which the
// engine records as abandoned.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}
	callSid := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	if callSid == "" {
		http.Error(w, "CallSid required", http.StatusBadRequest)
		return
	}
	sessionID := SessionIDForCall(callSid)

	var ev dialogue.Event
	switch status {
	case "completed":
		ev = dialogue.End()
	case "busy", "failed", "no-answer", "canceled":
		ev = dialogue.Abandon()
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ev = ev.WithID(sessionID + ":status:" + status)

	_, err := h.engine.SubmitTurn(r.Context(), sessionID, catalog.ChannelVoice, ev)
	switch {
	case err == nil, errors.Is(err, dialogue.ErrSessionClosed), errors.Is(err, dialogue.ErrSessionNotFound):
		w.WriteHeader(http.StatusNoContent)
	default:
		h.logger.Error("voice: status callback failed", "session_id", sessionID, "call_status", status, "error", err)
		handlers.WriteError(w, err)
	}
}

// render speaks res. A closing prompt that expects no answer is followed
// straight away by an end event so the report is written before hang-up.
func (h *Handler) render(ctx context.Context, res *dialogue.TurnResult, eventID string) Response {
	if res.Terminal {
		return h.goodbye(res.Message)
	}
	if res.Expect == dialogue.ExpectNone {
		endID := ""
		if eventID != "" {
			endID = eventID + ":end"
		}
		final, err := h.engine.SubmitTurn(ctx, res.SessionID, catalog.ChannelVoice, dialogue.End().WithID(endID))
		if err != nil && !errors.Is(err, dialogue.ErrSessionClosed) {
			h.logger.Error("voice: closing failed", "session_id", res.SessionID, "error", err)
			return h.goodbye(res.Message)
		}
		out := Response{Says: []Say{h.say(res.Message)}, Hangup: &Hangup{}}
		if final != nil && final.Message != "" {
			out.Says = append(out.Says, h.say(final.Message))
		}
		return out
	}

	action := h.cfg.PublicBaseURL + "/v1/voice/gather?" + url.Values{
		"session": {res.SessionID},
		"turn":    {h.nonce()},
	}.Encode()
	return Response{Gather: &Gather{
		Input:               "speech",
		Action:              action,
		Method:              http.MethodPost,
		Language:            h.cfg.Language,
		Hints:               joinHints(res.Hints),
		SpeechTimeout:       h.cfg.SpeechTimeout,
		Timeout:             h.cfg.NoInputTimeout,
		ActionOnEmptyResult: true,
		Say:                 h.say(res.Message),
	}}
}

func (h *Handler) goodbye(text string) Response {
	return Response{Says: []Say{h.say(text)}, Hangup: &Hangup{}}
}

func (h *Handler) say(text string) Say {
	return Say{Language: h.cfg.Language, Voice: h.cfg.Voice, Text: Speakable(text)}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return false
	}
	if h.cfg.AuthToken == "" {
		return true
	}
	if !ValidSignature(r, h.cfg.AuthToken, externalURL(r, h.cfg.PublicBaseURL)) {
		h.logger.Warn("voice: rejected unsigned webhook", "path", r.URL.Path)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return false
	}
	return true
}

func (h *Handler) write(w http.ResponseWriter, resp Response) {
	body, err := resp.Marshal()
	if err != nil {
		h.logger.Error("voice: render twiml", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
