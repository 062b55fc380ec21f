// Package chat exposes the dialogue engine to the web chat widget over plain
// JSON endpoints and a websocket carrying the same payloads.
package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Engine is the part of dialogue.Engine the chat channel drives.
type Engine interface {
	StartSession(ctx context.Context, req dialogue.StartRequest) (*dialogue.TurnResult, error)
	SubmitTurn(ctx context.Context, sessionID string, channel catalog.Channel, ev dialogue.Event) (*dialogue.TurnResult, error)
}

// History reads the conversation log for a session.
type History interface {
	Messages(ctx context.Context, sessionID string, limit int) ([]convlog.Message, error)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
	// IdempotencyHeader carries the event id when the body omits it.
	IdempotencyHeader = "Idempotency-Key"
)

// Reply is a turn result plus the buttons the widget should offer.
type Reply struct {
	*dialogue.TurnResult
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// QuickReply is a tappable answer. Score is set for the 0..10 scale.
type QuickReply struct {
	Label string `json:"label"`
	Score *int   `json:"score,omitempty"`
}

// StartBody is the JSON accepted by the start endpoint.
type StartBody struct {
	SessionID   string `json:"session_id,omitempty"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	PostOpDay   *int   `json:"post_op_day,omitempty"`
}

func (b StartBody) request() dialogue.StartRequest {
	return dialogue.StartRequest{
		SessionID:   b.SessionID,
		PatientID:   b.PatientID,
		PatientName: b.PatientName,
		PostOpDay:   b.PostOpDay,
		Channel:     catalog.ChannelChat,
	}
}

// Handler serves the chat channel.
type Handler struct {
	engine  Engine
	history History
	logger  *logging.Logger
}

func NewHandler(engine Engine, history History, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, history: history, logger: logger}
}

// Routes mounts the chat endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.HandleStart)
	r.Post("/sessions/{sessionID}/turns", h.HandleTurn)
	r.Get("/sessions/{sessionID}/messages", h.HandleHistory)
	r.Get("/ws", h.HandleWebSocket)
}

// HandleStart opens a chat session and returns the greeting.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var body StartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handlers.WriteJSON(w, http.StatusBadRequest, handlers.ErrorBody{Error: "invalid request body", Code: "invalid"})
		return
	}
	res, err := h.engine.StartSession(r.Context(), body.request())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, newReply(res))
}

// HandleTurn submits one patient event.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var ev dialogue.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		handlers.WriteJSON(w, http.StatusBadRequest, handlers.ErrorBody{Error: "invalid request body", Code: "invalid"})
		return
	}
	if ev.ID == "" {
		ev.ID = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}
	res, err := h.engine.SubmitTurn(r.Context(), sessionID, catalog.ChannelChat, withInputMethod(ev))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, newReply(res))
}

// HandleHistory returns the logged messages of a session, oldest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handlers.WriteJSON(w, http.StatusBadRequest, handlers.ErrorBody{Error: "limit must be a positive integer", Code: "invalid"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	msgs := []convlog.Message{}
	if h.history != nil {
		loaded, err := h.history.Messages(r.Context(), sessionID, limit)
		if err != nil {
			h.logger.Error("chat: failed to load history", "session_id", sessionID, "error", err)
			handlers.WriteJSON(w, http.StatusInternalServerError, handlers.ErrorBody{Error: "failed to load history", Code: "internal"})
			return
		}
		if loaded != nil {
			msgs = loaded
		}
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := handlers.StatusFor(err); status == http.StatusInternalServerError {
		h.logger.Error("chat: request failed", "path", r.URL.Path, "error", err)
	}
	handlers.WriteError(w, err)
}

// withInputMethod fills in how the widget produced the event.
func withInputMethod(ev dialogue.Event) dialogue.Event {
	if ev.InputMethod != "" {
		return ev
	}
	switch ev.Type {
	case dialogue.EventButtonScore, dialogue.EventSafetyFlag:
		ev.InputMethod = convlog.InputButton
	case dialogue.EventFreeText:
		ev.InputMethod = convlog.InputText
	}
	return ev
}

func newReply(res *dialogue.TurnResult) Reply {
	return Reply{TurnResult: res, QuickReplies: quickReplies(res)}
}

func quickReplies(res *dialogue.TurnResult) []QuickReply {
	if res == nil || res.Terminal {
		return nil
	}
	switch res.Expect {
	case dialogue.ExpectScore:
		out := make([]QuickReply, 0, catalog.MaxScore+1)
		for i := 0; i <= catalog.MaxScore; i++ {
			score := i
			out = append(out, QuickReply{Label: strconv.Itoa(i), Score: &score})
		}
		return out
	case dialogue.ExpectConsent:
		return labels("好，可以", "現在不方便")
	case dialogue.ExpectYesNo:
		return labels("有", "沒有")
	case dialogue.ExpectFreeText:
		return labels("沒有了")
	case dialogue.ExpectConfirm:
		return labels("好，謝謝")
	}
	return nil
}

func labels(texts ...string) []QuickReply {
	out := make([]QuickReply, len(texts))
	for i, t := range texts {
		out[i] = QuickReply{Label: t}
	}
	return out
}
