package chat

import (
	"context"
	"errors"
	"io"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/handlers"
)

// Frame types exchanged over the websocket.
const (
	FrameStart   = "start"
	FrameEvent   = "event"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameTurn    = "turn"
	FrameHistory = "history"
	FrameError   = "error"
)

// InboundFrame is what the widget sends.
type InboundFrame struct {
	Type  string          `json:"type"`
	Start *StartBody      `json:"start,omitempty"`
	Event *dialogue.Event `json:"event,omitempty"`
}

// OutboundFrame is what the widget receives.
type OutboundFrame struct {
	Type     string `json:"type"`
	Reply    *Reply `json:"reply,omitempty"`
	Messages any    `json:"messages,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// HandleWebSocket upgrades the connection. A ?session= query resumes an
// existing session: its history is pushed before any frame is read.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" && h.history != nil {
		msgs, err := h.history.Messages(ctx, sessionID, defaultHistoryLimit)
		if err != nil {
			h.logger.Warn("chat: history unavailable", "session_id", sessionID, "error", err)
		} else if len(msgs) > 0 {
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: FrameHistory, Messages: msgs})
		}
	}

	for {
		var in InboundFrame
		if err := websocket.JSON.Receive(conn, &in); err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("chat: websocket read ended", "session_id", sessionID, "error", err)
			}
			return
		}
		out, sid := h.handleFrame(ctx, sessionID, in)
		if sid != "" {
			sessionID = sid
		}
		if err := websocket.JSON.Send(conn, out); err != nil {
			h.logger.Debug("chat: websocket write failed", "session_id", sessionID, "error", err)
			return
		}
		if out.Reply != nil && out.Reply.Terminal {
			return
		}
	}
}

// handleFrame processes one inbound frame and returns the reply plus the
// session id it bound the connection to, if any.
func (h *Handler) handleFrame(ctx context.Context, sessionID string, in InboundFrame) (OutboundFrame, string) {
	switch in.Type {
	case FramePing:
		return OutboundFrame{Type: FramePong}, ""
	case FrameStart:
		if in.Start == nil {
			return errorFrame("start frame needs a start body", "invalid"), ""
		}
		body := *in.Start
		if body.SessionID == "" {
			body.SessionID = sessionID
		}
		res, err := h.engine.StartSession(ctx, body.request())
		if err != nil {
			return h.frameFor(err), ""
		}
		reply := newReply(res)
		return OutboundFrame{Type: FrameTurn, Reply: &reply}, res.SessionID
	case FrameEvent:
		if sessionID == "" {
			return errorFrame("no session started on this connection", "invalid"), ""
		}
		if in.Event == nil {
			return errorFrame("event frame needs an event", "invalid"), ""
		}
		res, err := h.engine.SubmitTurn(ctx, sessionID, catalog.ChannelChat, withInputMethod(*in.Event))
		if err != nil {
			return h.frameFor(err), ""
		}
		reply := newReply(res)
		return OutboundFrame{Type: FrameTurn, Reply: &reply}, ""
	}
	return errorFrame("unknown frame type "+in.Type, "invalid"), ""
}

func (h *Handler) frameFor(err error) OutboundFrame {
	status, code := handlers.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("chat: websocket turn failed", "error", err)
		return errorFrame("internal error", code)
	}
	return errorFrame(err.Error(), code)
}

func errorFrame(msg, code string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Error: msg, Code: code}
}
