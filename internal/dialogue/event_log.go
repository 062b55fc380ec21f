package dialogue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// LifecycleEvent is one structured line in the dialogue lifecycle. Every event
// shares the same base fields so logs can be filtered with grep:
//
//	grep '"event":"step_skipped"' /var/log/app.log
//	grep '"session_id":"sess_abc"' /var/log/app.log
type LifecycleEvent struct {
	Time      string         `json:"time"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	PatientID string         `json:"patient_id,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventLogger emits lifecycle events. A nil EventLogger is a no-op.
type EventLogger struct {
	logger *logging.Logger
	now    func() time.Time
}

func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger, now: time.Now}
}

// Log emits a single lifecycle event.
func (e *EventLogger) Log(_ context.Context, event string, s Session, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := LifecycleEvent{
		Time:      e.now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		SessionID: s.ID,
		PatientID: s.PatientID,
		Channel:   string(s.Channel),
		Data:      data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

func (e *EventLogger) SessionStarted(ctx context.Context, s Session) {
	e.Log(ctx, "session_started", s, nil)
}

func (e *EventLogger) TurnProcessed(ctx context.Context, s Session, ev Event, elapsed time.Duration) {
	e.Log(ctx, "turn_processed", s, map[string]any{
		"event_type":    ev.Type,
		"state":         s.State,
		"symptom_index": s.SymptomIndex,
		"turn":          s.TurnCount,
		"elapsed_ms":    elapsed.Milliseconds(),
	})
}

func (e *EventLogger) Retry(ctx context.Context, s Session, note StepNote) {
	e.Log(ctx, "retry", s, map[string]any{"step": note.Step, "attempt": note.Attempt})
}

func (e *EventLogger) StepSkipped(ctx context.Context, s Session, note StepNote) {
	e.Log(ctx, "step_skipped", s, map[string]any{"step": note.Step, "attempts": note.Attempt})
}

func (e *EventLogger) RedAlertRaised(ctx context.Context, s Session, reasons []string, delivered bool) {
	e.Log(ctx, "red_alert_raised", s, map[string]any{"reasons": reasons, "delivered": delivered})
}

func (e *EventLogger) SessionCompleted(ctx context.Context, s Session, reportID string, level string) {
	e.Log(ctx, "session_completed", s, map[string]any{
		"report_id":    reportID,
		"alert_level":  level,
		"needs_review": s.NeedsReview(),
		"turns":        s.TurnCount,
	})
}

func (e *EventLogger) SessionAbandoned(ctx context.Context, s Session) {
	e.Log(ctx, "session_abandoned", s, map[string]any{
		"completion_type": s.CompletionType,
		"state_reached":   s.LastPrompt.Expect,
		"turns":           s.TurnCount,
	})
}

func (e *EventLogger) ReportPersistDeferred(ctx context.Context, s Session, reportID string, err error) {
	e.Log(ctx, "report_persist_deferred", s, map[string]any{"report_id": reportID, "error": err.Error()})
}
