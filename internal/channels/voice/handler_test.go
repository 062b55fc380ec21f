package voice

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/session"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

const testToken = "twilio-secret"

type voiceFixture struct {
	router http.Handler
	sink   *assessment.MemorySink
	log    *convlog.MemoryLog
}

func newFixture(t *testing.T, token string) *voiceFixture {
	t.Helper()
	f := &voiceFixture{sink: assessment.NewMemorySink(), log: convlog.NewMemoryLog()}
	engine := dialogue.NewEngine(dialogue.EngineDeps{
		Store:   session.NewMemoryStore(),
		Locker:  session.NewMemoryLocker(),
		Results: session.NewMemoryResultCache(),
		Log:     f.log,
		Sink:    f.sink,
		Logger:  logging.Default(),
	})
	h := NewHandler(engine, Config{AuthToken: token, Voice: "Google.cmn-TW-Standard-A"}, logging.Default())
	n := 0
	h.nonce = func() string {
		n++
		return "t" + strings.Repeat("x", n)
	}
	r := chi.NewRouter()
	r.Route("/v1/voice", h.Routes)
	f.router = r
	return f
}

func (f *voiceFixture) post(t *testing.T, target string, form url.Values, token string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	full := "http://example.com" + target
	req := httptest.NewRequest(http.MethodPost, full, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set(SignatureHeader, Sign(token, full, form))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var doc Response
	if rec.Code == http.StatusOK && strings.HasPrefix(rec.Header().Get("Content-Type"), "text/xml") {
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &doc))
	}
	return rec, doc
}

func gatherPath(t *testing.T, action string) string {
	t.Helper()
	u, err := url.Parse(action)
	require.NoError(t, err)
	return u.RequestURI()
}

func answerFor(g *Gather) string {
	switch {
	case strings.Contains(g.Hints, "改天"):
		return "可以"
	case strings.Contains(g.Hints, "嚴重"):
		return "1分"
	default:
		return "沒有"
	}
}

func TestVoiceCallRunsToCompletion(t *testing.T) {
	f := newFixture(t, testToken)

	rec, doc := f.post(t, "/v1/voice/incoming?patient_id=P009&post_op_day=2", url.Values{"CallSid": {"CA1"}, "From": {"+886900000000"}}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, doc.Gather)
	assert.Equal(t, "speech", doc.Gather.Input)
	assert.Equal(t, "zh-TW", doc.Gather.Language)
	assert.True(t, doc.Gather.ActionOnEmptyResult)
	assert.Contains(t, doc.Gather.Hints, "可以")
	assert.Contains(t, doc.Gather.Action, "session=call_CA1")
	assert.NotContains(t, doc.Gather.Say.Text, "**")

	for i := 0; i < 40 && doc.Gather != nil; i++ {
		form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {answerFor(doc.Gather)}}
		rec, doc = f.post(t, gatherPath(t, doc.Gather.Action), form, testToken)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Nil(t, doc.Gather, "call should have reached the closing")
	require.NotNil(t, doc.Hangup)
	require.Len(t, doc.Says, 2)
	assert.Contains(t, doc.Says[0].Text, "再見")

	reports := f.sink.All()
	require.Len(t, reports, 1)
	assert.Equal(t, "P009", reports[0].PatientID)
	assert.Equal(t, assessment.Method("voice"), reports[0].Method)
	assert.Equal(t, "completed", f.log.CompletionType("call_CA1"))

	rec, _ = f.post(t, "/v1/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, testToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVoiceSilenceIsNoInput(t *testing.T) {
	f := newFixture(t, "")
	_, doc := f.post(t, "/v1/voice/incoming", url.Values{"CallSid": {"CA2"}, "From": {"+886911111111"}}, "")
	require.NotNil(t, doc.Gather)

	_, doc = f.post(t, gatherPath(t, doc.Gather.Action), url.Values{"CallSid": {"CA2"}, "SpeechResult": {""}}, "")
	require.NotNil(t, doc.Gather, "first silence is retried")

	msgs, err := f.log.Messages(t.Context(), "call_CA2", 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, convlog.RoleAssistant, msgs[len(msgs)-1].Role)
}

func TestVoiceGatherRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, "")
	_, doc := f.post(t, "/v1/voice/incoming?patient_id=P010", url.Values{"CallSid": {"CA3"}}, "")
	require.NotNil(t, doc.Gather)
	path := gatherPath(t, doc.Gather.Action)
	form := url.Values{"CallSid": {"CA3"}, "SpeechResult": {"可以"}}

	_, first := f.post(t, path, form, "")
	_, second := f.post(t, path, form, "")
	require.NotNil(t, first.Gather)
	require.NotNil(t, second.Gather)
	assert.Equal(t, first.Gather.Say.Text, second.Gather.Say.Text)

	msgs, err := f.log.Messages(t.Context(), "call_CA3", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestVoiceStatusHangupAbandons(t *testing.T) {
	f := newFixture(t, "")
	_, doc := f.post(t, "/v1/voice/incoming?patient_id=P011", url.Values{"CallSid": {"CA4"}}, "")
	_, _ = f.post(t, gatherPath(t, doc.Gather.Action), url.Values{"CallSid": {"CA4"}, "SpeechResult": {"可以"}}, "")

	rec, _ := f.post(t, "/v1/voice/status", url.Values{"CallSid": {"CA4"}, "CallStatus": {"completed"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abandoned", f.log.CompletionType("call_CA4"))
	assert.Empty(t, f.sink.All())

	rec, doc = f.post(t, "/v1/voice/gather?session=call_CA4&turn=late", url.Values{"CallSid": {"CA4"}, "SpeechResult": {"1分"}}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, doc.Hangup)

	rec, _ = f.post(t, "/v1/voice/status", url.Values{"CallSid": {"CA-unknown"}, "CallStatus": {"no-answer"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = f.post(t, "/v1/voice/status", url.Values{"CallSid": {"CA4"}, "CallStatus": {"ringing"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVoiceRejectsBadSignature(t *testing.T) {
	f := newFixture(t, testToken)
	rec, _ := f.post(t, "/v1/voice/incoming", url.Values{"CallSid": {"CA5"}}, "wrong-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = f.post(t, "/v1/voice/incoming", url.Values{"CallSid": {"CA5"}}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignCoversURLAndParams(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}, "Caller": {"+14158675310"}, "Digits": {"1234"}, "From": {"+14158675310"}, "To": {"+18005551212"}}
	got := Sign("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	assert.Equal(t, Sign("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params), got)
	assert.NotEqual(t, got, Sign("12345", "https://mycompany.com/myapp.php?foo=1&bar=3", params))
	assert.NotEqual(t, got, Sign("54321", "https://mycompany.com/myapp.php?foo=1&bar=2", params))
}

func TestSpeakable(t *testing.T) {
	cases := []struct{ in, want string }{
		{"術後第 **2** 天 😊", "術後第 2 天"},
		{"請看 [說明](https://x.test)", "請看 說明"},
		{"第一行\n- 第二項\n\n第三行。", "第一行，第二項，第三行。"},
		{"好的。\n接下來", "好的。接下來"},
		{"疼痛 1~2 分 ✅", "疼痛 1~2 分"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Speakable(tc.in), tc.in)
	}
}

func TestTwiMLRendering(t *testing.T) {
	body, err := Response{Says: []Say{{Language: "zh-TW", Text: "再見"}}, Hangup: &Hangup{}}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<Response><Say language="zh-TW">再見</Say><Hangup></Hangup></Response>`, string(body))
}
