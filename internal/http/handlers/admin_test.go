package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/compliance"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/session"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
	replayworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/replay"
)

type sinkReader struct{ sink *assessment.MemorySink }

func (s sinkReader) Get(_ context.Context, id string) (*assessment.SymptomAssessment, error) {
	if rpt := s.sink.Get(id); rpt != nil {
		return rpt, nil
	}
	return nil, assessment.ErrReportNotFound
}

type adminFixture struct {
	router      http.Handler
	templates   *templates.MemoryRepository
	replays     *assessment.MemoryReplayStore
	sink        *assessment.MemorySink
	log         *convlog.MemoryLog
	engine      *dialogue.Engine
	audit       *compliance.MemoryTrail
	invalidated int
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{
		templates: templates.NewMemoryRepository(templates.Defaults()),
		replays:   assessment.NewMemoryReplayStore(),
		sink:      assessment.NewMemorySink(),
		log:       convlog.NewMemoryLog(),
		audit:     compliance.NewMemoryTrail(),
	}
	f.engine = dialogue.NewEngine(dialogue.EngineDeps{
		Store:   session.NewMemoryStore(),
		Locker:  session.NewMemoryLocker(),
		Results: session.NewMemoryResultCache(),
		Log:     f.log,
		Sink:    f.sink,
	})
	h := NewAdminHandler(AdminConfig{
		Templates:  f.templates,
		Invalidate: func() { f.invalidated++ },
		Sessions:   f.engine,
		History:    f.log,
		Reports:    sinkReader{f.sink},
		Replays:    f.replays,
		Replayer:   replayworker.NewReplayer(f.replays, f.sink, nil),
		Audit:      f.audit,
	})
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	f.router = r
	return f
}

func (f *adminFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestAdminTemplates(t *testing.T) {
	f := newAdminFixture(t)

	rec, body := f.do(t, http.MethodGet, "/admin/templates?category=symptom_response", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, raw := range body["templates"].([]any) {
		assert.Equal(t, "symptom_response", raw.(map[string]any)["category"])
	}

	rec, body = f.do(t, http.MethodGet, "/admin/templates/pain_low_001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["version"])

	rec, _ = f.do(t, http.MethodGet, "/admin/templates/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	put := `{"template_id":"ignored","category":"emotional_support","scenario_name":"安撫","response_template":"別擔心，我們都在。","is_active":true,"is_approved":true,"author_name":"王護理師","author_role":"nurse"}`
	rec, body = f.do(t, http.MethodPut, "/admin/templates/comfort_001", put)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "comfort_001", body["template_id"])
	assert.Equal(t, 1, f.invalidated)

	rec, body = f.do(t, http.MethodPut, "/admin/templates/comfort_001", put)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["version"], "updates bump the version")

	rec, body = f.do(t, http.MethodPut, "/admin/templates/bad_001", `{"category":"nonsense","response_template":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid", body["code"])
	rec, _ = f.do(t, http.MethodPut, "/admin/templates/bad_001", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, f.invalidated)
}

func TestAdminTemplateStats(t *testing.T) {
	f := newAdminFixture(t)
	require.NoError(t, f.templates.RecordUsage(context.Background(), "pain_low_001", testNow()))

	rec, body := f.do(t, http.MethodGet, "/admin/templates/stats?top=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	top := body["top_used"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "pain_low_001", top[0].(map[string]any)["template_id"])
	assert.EqualValues(t, len(templates.Defaults()), body["total_templates"])

	rec, _ = f.do(t, http.MethodGet, "/admin/templates/stats?top=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSessionAndMessages(t *testing.T) {
	f := newAdminFixture(t)
	res, err := f.engine.StartSession(context.Background(), dialogue.StartRequest{PatientID: "P001", Channel: catalog.ChannelChat})
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/admin/sessions/"+res.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "P001", body["patient_id"])

	rec, body = f.do(t, http.MethodGet, "/admin/sessions/"+res.SessionID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["messages"], 1)

	rec, body = f.do(t, http.MethodGet, "/admin/sessions/missing/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["messages"])

	rec, _ = f.do(t, http.MethodGet, "/admin/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminReplays(t *testing.T) {
	f := newAdminFixture(t)
	rpt := &assessment.SymptomAssessment{ReportID: "RPT_P001_20260301093015", PatientID: "P001", Method: assessment.MethodAIChat, Scores: map[string]int{"pain": 2}}
	require.NoError(t, f.replays.MarkPending(context.Background(), rpt, errors.New("db down")))

	rec, body := f.do(t, http.MethodGet, "/admin/replays", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, _ = f.do(t, http.MethodGet, "/admin/reports/"+rpt.ReportID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/admin/replays/"+rpt.ReportID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "replayed", body["status"])

	rec, body = f.do(t, http.MethodGet, "/admin/reports/"+rpt.ReportID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "P001", body["patient_id"])

	rec, body = f.do(t, http.MethodPost, "/admin/replays/"+rpt.ReportID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_pending", body["code"])

	rec, _ = f.do(t, http.MethodPost, "/admin/replays/RPT_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/admin/replays", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
}

func TestAdminAuditTrail(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	res, err := f.engine.StartSession(ctx, dialogue.StartRequest{PatientID: "P001", Channel: catalog.ChannelChat})
	require.NoError(t, err)

	f.do(t, http.MethodGet, "/admin/sessions/"+res.SessionID, "")
	f.do(t, http.MethodGet, "/admin/sessions/"+res.SessionID+"/messages", "")
	f.do(t, http.MethodGet, "/admin/sessions/missing", "")
	f.do(t, http.MethodPut, "/admin/templates/comfort_001",
		`{"category":"emotional_support","response_template":"別擔心，我們都在。","is_active":true,"is_approved":true}`)

	events, err := f.audit.Query(ctx, compliance.AuditFilter{SubjectID: res.SessionID})
	require.NoError(t, err)
	require.Len(t, events, 2, "failed reads are not audited")
	for _, ev := range events {
		assert.Equal(t, "unknown", ev.Actor)
	}

	rec, body := f.do(t, http.MethodGet, "/admin/audit?type=template.updated", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["total"])
	ev := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "comfort_001", ev["subject_id"])
	assert.Equal(t, true, ev["details"].(map[string]any)["approved"])

	rec, _ = f.do(t, http.MethodGet, "/admin/audit?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/admin/audit?since="+time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
}

func TestAdminUnconfiguredRoutes(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/admin", NewAdminHandler(AdminConfig{}).Routes)
	for _, target := range []string{"/admin/templates", "/admin/replays", "/admin/reports/x", "/admin/sessions/x", "/admin/audit"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, target)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{dialogue.ErrInvalidEvent, http.StatusBadRequest, "invalid"},
		{templates.ErrTemplateNotFound, http.StatusNotFound, "not_found"},
		{dialogue.ErrSessionBusy, http.StatusConflict, "busy"},
		{dialogue.ErrChannelMismatch, http.StatusConflict, "channel_mismatch"},
		{dialogue.ErrSessionClosed, http.StatusGone, "closed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := StatusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code)
	}

	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func testNow() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
