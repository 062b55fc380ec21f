package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/compliance"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
	"github.com/wolfman30/symptom-assessment-engine/internal/http/middleware"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
	replayworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/replay"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// SessionReader loads live dialogue state.
type SessionReader interface {
	Session(ctx context.Context, id string) (*dialogue.Session, error)
}

// HistoryReader loads a session transcript.
type HistoryReader interface {
	Messages(ctx context.Context, sessionID string, limit int) ([]convlog.Message, error)
}

// ReportReader loads a stored report.
type ReportReader interface {
	Get(ctx context.Context, reportID string) (*assessment.SymptomAssessment, error)
}

// ReplayRunner persists one deferred report on demand.
type ReplayRunner interface {
	ReplayOne(ctx context.Context, reportID string) error
}

// AdminConfig collects the admin API collaborators. Nil members disable the
// routes that need them.
type AdminConfig struct {
	Templates templates.Store
	// Invalidate is called after a template write so cached reads refetch.
	Invalidate func()
	Sessions   SessionReader
	History    HistoryReader
	Reports    ReportReader
	Replays    assessment.ReplayStore
	Replayer   ReplayRunner
	// Audit records staff reads of patient data and content edits.
	Audit  compliance.Trail
	Logger *logging.Logger
}

// AdminHandler serves the care-team and template-authoring API.
type AdminHandler struct {
	cfg    AdminConfig
	logger *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{cfg: cfg, logger: logger}
}

// Routes mounts the admin endpoints on r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/stats", h.TemplateStats)
	r.Get("/templates/{templateID}", h.GetTemplate)
	r.Put("/templates/{templateID}", h.PutTemplate)
	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Get("/sessions/{sessionID}/messages", h.GetSessionMessages)
	r.Get("/reports/{reportID}", h.GetReport)
	r.Get("/replays", h.ListReplays)
	r.Post("/replays/{reportID}", h.RetryReplay)
	r.Get("/audit", h.ListAudit)
}

func (h *AdminHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Templates != nil) {
		return
	}
	list, err := h.cfg.Templates.List(r.Context())
	if err != nil {
		h.fail(w, "list templates", err)
		return
	}
	category := templates.Category(strings.TrimSpace(r.URL.Query().Get("category")))
	out := make([]templates.Template, 0, len(list))
	for _, t := range list {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"templates": out, "total": len(out)})
}

func (h *AdminHandler) TemplateStats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Templates != nil) {
		return
	}
	top, ok := intParam(w, r, "top", 10, 100)
	if !ok {
		return
	}
	list, err := h.cfg.Templates.List(r.Context())
	if err != nil {
		h.fail(w, "template stats", err)
		return
	}
	WriteJSON(w, http.StatusOK, templates.ComputeStats(list, top))
}

func (h *AdminHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Templates != nil) {
		return
	}
	t, err := h.cfg.Templates.Get(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		h.fail(w, "get template", err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// PutTemplate creates or replaces a template. The path id wins over the body.
func (h *AdminHandler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Templates != nil) {
		return
	}
	var t templates.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid json", Code: "invalid"})
		return
	}
	t.ID = chi.URLParam(r, "templateID")
	if err := templates.Validate(t); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.cfg.Templates.Upsert(r.Context(), t); err != nil {
		h.fail(w, "upsert template", err)
		return
	}
	if h.cfg.Invalidate != nil {
		h.cfg.Invalidate()
	}
	h.audit(r, compliance.EventTemplateUpdated, t.ID, map[string]any{
		"version":  t.Version,
		"approved": t.Approved,
		"active":   t.Active,
	})
	h.logger.Info("admin: template saved", "template_id", t.ID, "approved", t.Approved, "active", t.Active)

	saved, err := h.cfg.Templates.Get(r.Context(), t.ID)
	if err != nil {
		h.fail(w, "reload template", err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Sessions != nil) {
		return
	}
	sess, err := h.cfg.Sessions.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	h.audit(r, compliance.EventSessionViewed, sess.ID, nil)
	WriteJSON(w, http.StatusOK, sess)
}

func (h *AdminHandler) GetSessionMessages(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.History != nil) {
		return
	}
	limit, ok := intParam(w, r, "limit", 0, 1000)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := h.cfg.History.Messages(r.Context(), sessionID, limit)
	if err != nil {
		h.fail(w, "session messages", err)
		return
	}
	if msgs == nil {
		msgs = []convlog.Message{}
	}
	h.audit(r, compliance.EventTranscriptViewed, sessionID, map[string]int{"messages": len(msgs)})
	WriteJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (h *AdminHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Reports != nil) {
		return
	}
	rpt, err := h.cfg.Reports.Get(r.Context(), chi.URLParam(r, "reportID"))
	if err != nil {
		h.fail(w, "get report", err)
		return
	}
	h.audit(r, compliance.EventReportViewed, rpt.ReportID, nil)
	WriteJSON(w, http.StatusOK, rpt)
}

// ListReplays shows reports whose persistence was deferred.
func (h *AdminHandler) ListReplays(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Replays != nil) {
		return
	}
	limit, ok := intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	recs, err := h.cfg.Replays.Pending(r.Context(), limit)
	if err != nil {
		h.fail(w, "list replays", err)
		return
	}
	if recs == nil {
		recs = []assessment.ReplayRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"replays": recs, "total": len(recs)})
}

func (h *AdminHandler) RetryReplay(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Replayer != nil) {
		return
	}
	reportID := chi.URLParam(r, "reportID")
	if err := h.cfg.Replayer.ReplayOne(r.Context(), reportID); err != nil {
		if errors.Is(err, replayworker.ErrNotPending) {
			WriteJSON(w, http.StatusConflict, ErrorBody{Error: err.Error(), Code: "not_pending"})
			return
		}
		h.fail(w, "retry replay", err)
		return
	}
	h.audit(r, compliance.EventReplayRetried, reportID, nil)
	h.logger.Info("admin: report replayed", "report_id", reportID)
	WriteJSON(w, http.StatusOK, map[string]string{"report_id": reportID, "status": string(assessment.ReplayReplayed)})
}

// ListAudit returns the staff access trail, newest first.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, h.cfg.Audit != nil) {
		return
	}
	limit, ok := intParam(w, r, "limit", 100, 1000)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		Actor:     strings.TrimSpace(q.Get("actor")),
		SubjectID: strings.TrimSpace(q.Get("subject")),
		EventType: compliance.AuditEventType(strings.TrimSpace(q.Get("type"))),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid since", Code: "invalid"})
			return
		}
		filter.Since = since
	}
	events, err := h.cfg.Audit.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, "list audit", err)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

// audit records a staff action. A failed write is logged and the request proceeds.
func (h *AdminHandler) audit(r *http.Request, kind compliance.AuditEventType, subjectID string, details any) {
	if h.cfg.Audit == nil {
		return
	}
	actor, role := "unknown", ""
	if claims, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		actor, role = claims.Subject, claims.Role
	}
	ev := compliance.NewEvent(kind, actor, role, subjectID, details)
	if err := h.cfg.Audit.Record(r.Context(), ev); err != nil {
		h.logger.Error("admin: audit write failed", "event_type", kind, "subject_id", subjectID, "error", err)
	}
}

func (h *AdminHandler) available(w http.ResponseWriter, ok bool) bool {
	if !ok {
		WriteJSON(w, http.StatusNotImplemented, ErrorBody{Error: "not configured", Code: "unavailable"})
	}
	return ok
}

func (h *AdminHandler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("admin: "+op+" failed", "error", err)
	}
	WriteError(w, err)
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid " + name, Code: "invalid"})
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
