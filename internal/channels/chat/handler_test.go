package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/retry"
	"github.com/wolfman30/symptom-assessment-engine/internal/session"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

func newTestServer(t *testing.T) (*httptest.Server, *convlog.MemoryLog) {
	t.Helper()
	log := convlog.NewMemoryLog()
	engine := dialogue.NewEngine(dialogue.EngineDeps{
		Machine:   dialogue.NewMachine(nil, templates.NewMatcher(templates.FirstChoice), retry.Controller{}, dialogue.DefaultScript()),
		Store:     session.NewMemoryStore(),
		Locker:    session.NewMemoryLocker(),
		Results:   session.NewMemoryResultCache(),
		Log:       log,
		Templates: templates.NewMemoryRepository(templates.Defaults()),
		Sink:      assessment.NewMemorySink(),
		Logger:    logging.Default(),
	})
	r := chi.NewRouter()
	r.Route("/v1/chat", NewHandler(engine, log, logging.Default()).Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, log
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, Reply) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply Reply
	if resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	}
	return resp, reply
}

func TestChatSessionFlow(t *testing.T) {
	srv, log := newTestServer(t)
	base := srv.URL + "/v1/chat/sessions"

	resp, reply := postJSON(t, base, StartBody{SessionID: "chat-1", PatientID: "P001", PatientName: "王小明"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, reply.TurnResult)
	assert.Equal(t, "chat-1", reply.SessionID)
	assert.Equal(t, dialogue.ExpectConsent, reply.Expect)
	assert.Len(t, reply.QuickReplies, 2)

	resp, reply = postJSON(t, base+"/chat-1/turns", dialogue.FreeText("好"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, dialogue.ExpectScore, reply.Expect)
	require.Len(t, reply.QuickReplies, 11)
	require.NotNil(t, reply.QuickReplies[10].Score)
	assert.Equal(t, 10, *reply.QuickReplies[10].Score)

	headers := map[string]string{IdempotencyHeader: "evt-1"}
	resp, first := postJSON(t, base+"/chat-1/turns", dialogue.ButtonScore(3), headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, again := postJSON(t, base+"/chat-1/turns", dialogue.ButtonScore(3), headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.Message, again.Message)
	assert.Equal(t, first.SymptomIndex, again.SymptomIndex)

	msgs, err := log.Messages(t.Context(), "chat-1", 100)
	require.NoError(t, err)
	// greeting, consent pair, one scored pair: the duplicate adds nothing
	assert.Len(t, msgs, 5)
	assert.Equal(t, convlog.InputButton, msgs[3].InputMethod)

	histResp, err := http.Get(base + "/chat-1/messages?limit=2")
	require.NoError(t, err)
	defer histResp.Body.Close()
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	var hist struct {
		Messages []convlog.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&hist))
	assert.Len(t, hist.Messages, 2)
}

func TestChatErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/chat/sessions"

	resp, _ := postJSON(t, base, StartBody{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, base+"/missing/turns", dialogue.FreeText("好"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, base, StartBody{SessionID: "chat-2", PatientID: "P002"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = postJSON(t, base+"/chat-2/turns", map[string]any{"type": "button_score", "score": 11}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(base+"/chat-2/turns", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	hist, err := http.Get(base + "/chat-2/messages?limit=zero")
	require.NoError(t, err)
	hist.Body.Close()
	assert.Equal(t, http.StatusBadRequest, hist.StatusCode)
}

func TestChatWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"

	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var out OutboundFrame
	require.NoError(t, websocket.JSON.Send(conn, InboundFrame{Type: FramePing}))
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, FramePong, out.Type)

	ev := dialogue.FreeText("好")
	require.NoError(t, websocket.JSON.Send(conn, InboundFrame{Type: FrameEvent, Event: &ev}))
	out = OutboundFrame{}
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	assert.Equal(t, FrameError, out.Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundFrame{Type: FrameStart, Start: &StartBody{SessionID: "ws-1", PatientID: "P003"}}))
	out = OutboundFrame{}
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	require.Equal(t, FrameTurn, out.Type)
	require.NotNil(t, out.Reply)
	assert.Equal(t, "ws-1", out.Reply.SessionID)

	require.NoError(t, websocket.JSON.Send(conn, InboundFrame{Type: FrameEvent, Event: &ev}))
	out = OutboundFrame{}
	require.NoError(t, websocket.JSON.Receive(conn, &out))
	require.Equal(t, FrameTurn, out.Type)
	assert.Equal(t, dialogue.ExpectScore, out.Reply.Expect)

	resumed, err := websocket.Dial(wsURL+"?session=ws-1", "", srv.URL)
	require.NoError(t, err)
	defer resumed.Close()
	out = OutboundFrame{}
	require.NoError(t, websocket.JSON.Receive(resumed, &out))
	assert.Equal(t, FrameHistory, out.Type)
	assert.NotEmpty(t, out.Messages)
}

func TestQuickRepliesHiddenWhenTerminal(t *testing.T) {
	assert.Nil(t, quickReplies(&dialogue.TurnResult{Expect: dialogue.ExpectScore, Terminal: true}))
	assert.Nil(t, quickReplies(nil))
	assert.Equal(t, []QuickReply{{Label: "好，謝謝"}}, quickReplies(&dialogue.TurnResult{Expect: dialogue.ExpectConfirm}))
}
