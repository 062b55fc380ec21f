package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/events"
	"github.com/wolfman30/symptom-assessment-engine/internal/observability/metrics"
	"github.com/wolfman30/symptom-assessment-engine/internal/retry"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

var (
	ErrSessionNotFound = errors.New("dialogue: session not found")
	ErrSessionBusy     = errors.New("dialogue: session busy")
	ErrChannelMismatch = errors.New("dialogue: channel mismatch")
)

// closedMarker is the result-cache key left behind when a session ends, so
// late events get ErrSessionClosed instead of ErrSessionNotFound.
const closedMarker = "__closed__"

const defaultLockTTL = 10 * time.Second

// StartRequest opens a new assessment.
type StartRequest struct {
	SessionID   string          `json:"session_id,omitempty"`
	PatientID   string          `json:"patient_id"`
	PatientName string          `json:"patient_name,omitempty"`
	PostOpDay   *int            `json:"post_op_day,omitempty"`
	Channel     catalog.Channel `json:"channel"`
}

// TurnResult is what a channel adapter renders after each turn.
type TurnResult struct {
	SessionID           string         `json:"session_id"`
	Message             string         `json:"message"`
	Source              convlog.Source `json:"source"`
	TemplateIDs         []string       `json:"template_ids,omitempty"`
	State               State          `json:"state"`
	SymptomIndex        int            `json:"current_symptom_index"`
	AlertLevel          alert.Level    `json:"alert_level"`
	Expect              Expect         `json:"expect"`
	Hints               []string       `json:"hints,omitempty"`
	Terminal            bool           `json:"terminal"`
	ReportID            string         `json:"report_id,omitempty"`
	PersistenceDeferred bool           `json:"persistence_deferred,omitempty"`
}

// EngineDeps are the collaborators an Engine needs. Store, Locker and Sink
// are required; everything else may be nil.
type EngineDeps struct {
	Machine   *Machine
	Store     SessionStore
	Locker    Locker
	Results   ResultCache
	Log       convlog.Log
	Templates templates.Repository
	Sink      assessment.Sink
	Replay    assessment.ReplayStore
	Publisher events.Publisher
	Notifier  alert.Notifier
	Metrics   *metrics.DialogueMetrics
	Logger    *logging.Logger
}

// Engine runs one turn at a time per session: load, apply, persist.
type Engine struct {
	machine   *Machine
	store     SessionStore
	locker    Locker
	results   ResultCache
	log       convlog.Log
	templates templates.Repository
	sink      assessment.Sink
	replay    assessment.ReplayStore
	publisher events.Publisher
	notifier  alert.Notifier
	metrics   *metrics.DialogueMetrics
	logger    *logging.Logger
	events    *EventLogger

	lockTTL time.Duration
	now     func() time.Time
	newID   func() string
}

// EngineOption tweaks an Engine.
type EngineOption func(*Engine)

// WithLockTTL bounds how long a crashed turn can hold a session.
func WithLockTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides session and message id generation.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func NewEngine(deps EngineDeps, opts ...EngineOption) *Engine {
	if deps.Store == nil {
		panic("dialogue: session store cannot be nil")
	}
	if deps.Locker == nil {
		panic("dialogue: locker cannot be nil")
	}
	if deps.Sink == nil {
		panic("dialogue: report sink cannot be nil")
	}
	if deps.Machine == nil {
		deps.Machine = NewMachine(nil, nil, retry.Controller{}, Script{})
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	e := &Engine{
		machine:   deps.Machine,
		store:     deps.Store,
		locker:    deps.Locker,
		results:   deps.Results,
		log:       deps.Log,
		templates: deps.Templates,
		sink:      deps.Sink,
		replay:    deps.Replay,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		events:    NewEventLogger(deps.Logger),
		lockTTL:   defaultLockTTL,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Machine exposes the transition function the engine drives.
func (e *Engine) Machine() *Machine { return e.machine }

// StartSession creates a session and returns the greeting. Starting an
// existing session id again returns its last prompt unchanged.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (*TurnResult, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id required", ErrInvalidEvent)
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: channel %q", ErrInvalidEvent, req.Channel)
	}
	if req.SessionID == "" {
		req.SessionID = "sess_" + e.newID()
	}

	token, unlock, err := e.lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock(token)

	existing, err := e.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: load session: %w", err)
	}
	if existing != nil {
		if existing.Channel != req.Channel {
			return nil, ErrChannelMismatch
		}
		res := resultFor(*existing, existing.LastPrompt)
		return &res, nil
	}

	now := e.now().UTC()
	s := NewSession(req.SessionID, req.PatientID, req.Channel, now)
	s.PatientName = strings.TrimSpace(req.PatientName)
	s.PostOpDay = req.PostOpDay

	s, out, err := e.machine.Start(s, e.activeTemplates(ctx))
	if err != nil {
		return nil, err
	}

	if e.log != nil {
		if err := e.log.BeginSession(ctx, convlog.SessionRecord{
			SessionID: s.ID,
			PatientID: s.PatientID,
			Channel:   string(s.Channel),
			StartedAt: now,
		}); err != nil {
			e.logger.Warn("conversation log begin failed", "session_id", s.ID, "error", err)
		}
	}
	e.appendAssistant(ctx, s, out.Reply, s.ID+":greeting", now)
	e.recordTemplates(ctx, out.Reply.TemplateIDs, now)

	if err := e.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("dialogue: save session: %w", err)
	}
	e.metrics.ObserveSessionStarted(string(s.Channel))
	e.events.SessionStarted(ctx, s)

	res := resultFor(s, out.Reply)
	return &res, nil
}

// SubmitTurn applies one patient event to a live session.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID string, channel catalog.Channel, ev Event) (*TurnResult, error) {
	started := e.now()
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id required", ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		e.metrics.ObserveTurn(string(channel), string(ev.Type), "invalid", 0)
		return nil, err
	}

	if res, err := e.recall(ctx, sessionID, ev.ID); err != nil || res != nil {
		return res, err
	}

	token, unlock, err := e.lock(ctx, sessionID)
	if err != nil {
		e.metrics.ObserveTurn(string(channel), string(ev.Type), "busy", 0)
		return nil, err
	}
	defer unlock(token)

	// A duplicate may have finished while we waited for the lock.
	if res, err := e.recall(ctx, sessionID, ev.ID); err != nil || res != nil {
		return res, err
	}

	loaded, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: load session: %w", err)
	}
	if loaded == nil {
		if closed, _ := e.recall(ctx, sessionID, closedMarker); closed != nil {
			return nil, ErrSessionClosed
		}
		return nil, ErrSessionNotFound
	}
	if loaded.Channel != channel {
		return nil, ErrChannelMismatch
	}

	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	before := *loaded
	s, out, err := e.machine.Apply(before, ev, e.activeTemplates(ctx))
	if err != nil {
		e.metrics.ObserveTurn(string(channel), string(ev.Type), "rejected", e.now().Sub(started).Seconds())
		return nil, err
	}

	msgKey := ev.ID
	if msgKey == "" {
		msgKey = e.newID()
	}
	if out.Input != nil {
		e.appendPatient(ctx, s, *out.Input, msgKey+":patient", ev.At)
	}
	e.appendAssistant(ctx, s, out.Reply, msgKey+":assistant", ev.At)
	e.recordTemplates(ctx, out.Reply.TemplateIDs, ev.At)
	e.noteSteps(ctx, s, out)

	e.raiseRedAlert(ctx, &s, before.AlertLevel())

	res := resultFor(s, out.Reply)
	switch {
	case s.State == StateTerminated:
		e.finalize(ctx, s, &res)
	case s.State == StateAbandoned:
		e.end(ctx, s, &res)
		e.events.SessionAbandoned(ctx, s)
		e.metrics.ObserveSessionEnded(string(s.Channel), string(s.CompletionType), string(s.AlertLevel()))
	default:
		if err := e.store.Put(ctx, s); err != nil {
			return nil, fmt.Errorf("dialogue: save session: %w", err)
		}
	}

	if ev.ID != "" && e.results != nil {
		if err := e.results.Remember(ctx, sessionID, ev.ID, res); err != nil {
			e.logger.Warn("turn result cache failed", "session_id", sessionID, "event_id", ev.ID, "error", err)
		}
	}

	elapsed := e.now().Sub(started)
	e.metrics.ObserveTurn(string(channel), string(ev.Type), "ok", elapsed.Seconds())
	e.events.TurnProcessed(ctx, s, ev, elapsed)
	return &res, nil
}

// Session returns a copy of the live session, or ErrSessionNotFound.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Session, error) {
	s, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: load session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func resultFor(s Session, reply Outgoing) TurnResult {
	return TurnResult{
		SessionID:    s.ID,
		Message:      reply.Text,
		Source:       reply.Source,
		TemplateIDs:  reply.TemplateIDs,
		State:        s.State,
		SymptomIndex: s.SymptomIndex,
		AlertLevel:   s.AlertLevel(),
		Expect:       reply.Expect,
		Hints:        reply.Expect.Hints(),
		Terminal:     s.State.Terminal(),
	}
}

func lockKey(sessionID string) string { return "dialogue:lock:" + sessionID }

func (e *Engine) lock(ctx context.Context, sessionID string) (string, func(string), error) {
	key := lockKey(sessionID)
	token, ok, err := e.locker.TryLock(ctx, key, e.lockTTL)
	if err != nil {
		return "", nil, fmt.Errorf("dialogue: acquire lock: %w", err)
	}
	if !ok {
		return "", nil, ErrSessionBusy
	}
	return token, func(token string) {
		// Release on a fresh context so a cancelled request still unlocks.
		if err := e.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			e.logger.Warn("session unlock failed", "session_id", sessionID, "error", err)
		}
	}, nil
}

func (e *Engine) recall(ctx context.Context, sessionID, eventID string) (*TurnResult, error) {
	if eventID == "" || e.results == nil {
		return nil, nil
	}
	res, err := e.results.Recall(ctx, sessionID, eventID)
	if err != nil {
		e.logger.Warn("turn result recall failed", "session_id", sessionID, "event_id", eventID, "error", err)
		return nil, nil
	}
	return res, nil
}

func (e *Engine) activeTemplates(ctx context.Context) []templates.Template {
	if e.templates == nil {
		return nil
	}
	list, err := e.templates.ListActive(ctx)
	if err != nil {
		e.logger.Warn("template load failed, using scripted replies", "error", err)
		return nil
	}
	return list
}

func (e *Engine) recordTemplates(ctx context.Context, ids []string, at time.Time) {
	for _, id := range ids {
		e.metrics.ObserveTemplateUsed(id)
		if e.templates == nil {
			continue
		}
		if err := e.templates.RecordUsage(ctx, id, at); err != nil {
			e.logger.Warn("template usage not recorded", "template_id", id, "error", err)
		}
	}
}

func (e *Engine) appendPatient(ctx context.Context, s Session, in PatientInput, id string, at time.Time) {
	e.appendMessage(ctx, convlog.Message{
		ID:               id,
		SessionID:        s.ID,
		PatientID:        s.PatientID,
		Role:             convlog.RolePatient,
		Content:          in.Content,
		Source:           in.Source,
		RawInput:         in.RawInput,
		InputMethod:      in.InputMethod,
		NeedsHumanReview: in.NeedsHumanReview,
		Timestamp:        at,
	})
}

func (e *Engine) appendAssistant(ctx context.Context, s Session, reply Outgoing, id string, at time.Time) {
	if reply.Text == "" {
		return
	}
	msg := convlog.Message{
		ID:        id,
		SessionID: s.ID,
		PatientID: s.PatientID,
		Role:      convlog.RoleAssistant,
		Content:   reply.Text,
		Source:    reply.Source,
		Timestamp: at,
	}
	if len(reply.TemplateIDs) > 0 {
		msg.TemplateID = reply.TemplateIDs[0]
	}
	e.appendMessage(ctx, msg)
}

func (e *Engine) appendMessage(ctx context.Context, msg convlog.Message) {
	if e.log == nil {
		return
	}
	if err := e.log.Append(ctx, msg); err != nil {
		e.logger.Warn("conversation log append failed", "session_id", msg.SessionID, "message_id", msg.ID, "error", err)
	}
}

func (e *Engine) noteSteps(ctx context.Context, s Session, out Outcome) {
	if out.Retry != nil {
		e.metrics.ObserveRetry(string(s.Channel), out.Retry.Step)
		e.events.Retry(ctx, s, *out.Retry)
	}
	if out.Skip != nil {
		e.metrics.ObserveSkip(string(s.Channel), out.Skip.Step)
		e.events.StepSkipped(ctx, s, *out.Skip)
	}
}

// raiseRedAlert notifies the care team the first time the session turns red.
func (e *Engine) raiseRedAlert(ctx context.Context, s *Session, previous alert.Level) {
	level := s.AlertLevel()
	if level != alert.Red || s.RedAlertNotified {
		return
	}
	s.RedAlertNotified = true
	notice := alert.Notice{
		SessionID:   s.ID,
		PatientID:   s.PatientID,
		PatientName: s.PatientName,
		Channel:     string(s.Channel),
		Level:       level,
		Reasons:     alert.Reasons(s.Scores, s.SafetyFlags()),
		Scores:      copyMap(s.Scores),
		RaisedAt:    s.UpdatedAt,
	}
	delivered := true
	if e.notifier != nil {
		if err := e.notifier.NotifyRed(ctx, notice); err != nil {
			delivered = false
			e.logger.Error("red alert notification failed", "session_id", s.ID, "patient_id", s.PatientID, "error", err)
		}
	}
	if err := e.publisher.Publish(ctx, events.PatientAggregate(s.PatientID), events.RedAlertRaisedV1{
		PatientID: s.PatientID,
		SessionID: s.ID,
		Channel:   string(s.Channel),
		Reasons:   notice.Reasons,
		RaisedAt:  notice.RaisedAt,
	}); err != nil {
		e.logger.Warn("red alert event not published", "session_id", s.ID, "error", err)
	}
	e.metrics.ObserveRedAlert(string(s.Channel), delivered)
	e.events.RedAlertRaised(ctx, *s, notice.Reasons, delivered)
	e.logger.Info("alert level escalated", "session_id", s.ID, "from", previous, "to", level)
}

// finalize builds and saves the report for a TERMINATED session. A failed
// save is parked in the replay store and never surfaced to the patient.
func (e *Engine) finalize(ctx context.Context, s Session, res *TurnResult) {
	at := e.now().UTC()
	if s.EndedAt != nil {
		at = s.EndedAt.UTC()
	}
	report, err := BuildAssessment(e.machine.Catalog(), s, at)
	if err != nil {
		e.logger.Error("assessment build failed", "session_id", s.ID, "error", err)
		e.end(ctx, s, res)
		return
	}
	res.ReportID = report.ReportID

	if err := e.sink.Save(ctx, report); err != nil {
		res.PersistenceDeferred = true
		e.metrics.ObserveReportDeferred()
		e.events.ReportPersistDeferred(ctx, s, report.ReportID, err)
		if e.replay != nil {
			if rerr := e.replay.MarkPending(ctx, report, err); rerr != nil {
				e.logger.Error("report replay enqueue failed", "report_id", report.ReportID, "error", rerr)
			}
		} else {
			e.logger.Error("report lost: no replay store configured", "report_id", report.ReportID, "error", err)
		}
	}

	if err := e.publisher.Publish(ctx, events.PatientAggregate(s.PatientID), events.ReportCompletedV1{
		PatientID:                   s.PatientID,
		SessionID:                   s.ID,
		ReportID:                    report.ReportID,
		Channel:                     string(s.Channel),
		AlertLevel:                  string(report.AlertLevel),
		SymptomCountWithDescription: describedCount(report),
		OpenEndedCount:              len(report.OpenEndedResponses),
		PersistenceDeferred:         res.PersistenceDeferred,
		CompletedAt:                 at,
	}); err != nil {
		e.logger.Warn("report completed event not published", "report_id", report.ReportID, "error", err)
	}

	e.end(ctx, s, res)
	e.metrics.ObserveSessionEnded(string(s.Channel), string(s.CompletionType), string(report.AlertLevel))
	e.events.SessionCompleted(ctx, s, report.ReportID, string(report.AlertLevel))
}

// end removes the live session, closes its log and leaves a closed marker.
func (e *Engine) end(ctx context.Context, s Session, res *TurnResult) {
	if err := e.store.Delete(ctx, s.ID); err != nil {
		e.logger.Warn("session delete failed", "session_id", s.ID, "error", err)
	}
	if e.log != nil {
		at := e.now().UTC()
		if s.EndedAt != nil {
			at = *s.EndedAt
		}
		if err := e.log.EndSession(ctx, s.ID, string(s.CompletionType), at); err != nil {
			e.logger.Warn("conversation log end failed", "session_id", s.ID, "error", err)
		}
	}
	if e.results != nil {
		if err := e.results.Remember(ctx, s.ID, closedMarker, *res); err != nil {
			e.logger.Warn("closed marker not stored", "session_id", s.ID, "error", err)
		}
	}
}
