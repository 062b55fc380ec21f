// Package completionworker consumes the events the dialogue engine publishes
// when an assessment finishes or raises a red alert.
package completionworker

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/symptom-assessment-engine/internal/events"
	replayworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/replay"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// reportReplayer is the part of replayworker.Replayer the handlers use.
type reportReplayer interface {
	ReplayOne(ctx context.Context, reportID string) error
}

// Handlers reacts to completion events.
type Handlers struct {
	replayer reportReplayer
	logger   *logging.Logger
}

// NewHandlers accepts a nil replayer, in which case deferred reports wait
// for the periodic replay pass.
func NewHandlers(replayer reportReplayer, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{replayer: replayer, logger: logger}
}

// Register binds the handlers to c.
func (h *Handlers) Register(c *events.Consumer) *events.Consumer {
	return c.
		Handle(events.ReportCompletedV1{}.EventType(), h.ReportCompleted).
		Handle(events.RedAlertRaisedV1{}.EventType(), h.RedAlertRaised)
}

// ReportCompleted logs the completion and, when the engine could not persist
// the report, replays it straight away.
func (h *Handlers) ReportCompleted(ctx context.Context, env events.Envelope) error {
	var evt events.ReportCompletedV1
	if err := env.Decode(&evt); err != nil {
		return fmt.Errorf("completionworker: decode %s: %w", env.EventType, err)
	}
	h.logger.Info("assessment report completed",
		"event_id", env.EventID,
		"report_id", evt.ReportID,
		"session_id", evt.SessionID,
		"patient_id", evt.PatientID,
		"channel", evt.Channel,
		"alert_level", evt.AlertLevel,
		"described_symptoms", evt.SymptomCountWithDescription,
		"open_ended", evt.OpenEndedCount,
		"persistence_deferred", evt.PersistenceDeferred,
	)
	if !evt.PersistenceDeferred || h.replayer == nil {
		return nil
	}
	err := h.replayer.ReplayOne(ctx, evt.ReportID)
	if err == nil || errors.Is(err, replayworker.ErrNotPending) {
		return nil
	}
	// Keep the message; the periodic replay pass also covers it.
	h.logger.Warn("immediate replay failed", "report_id", evt.ReportID, "error", err)
	return nil
}

// RedAlertRaised writes the audit line for a red alert. Care-team delivery
// already happened inside the turn.
func (h *Handlers) RedAlertRaised(ctx context.Context, env events.Envelope) error {
	var evt events.RedAlertRaisedV1
	if err := env.Decode(&evt); err != nil {
		return fmt.Errorf("completionworker: decode %s: %w", env.EventType, err)
	}
	h.logger.Warn("red alert raised",
		"event_id", env.EventID,
		"session_id", evt.SessionID,
		"patient_id", evt.PatientID,
		"channel", evt.Channel,
		"reasons", evt.Reasons,
		"raised_at", evt.RaisedAt,
	)
	return nil
}
