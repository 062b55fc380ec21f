// Package replayworker retries reports whose persistence was deferred when
// their session completed.
package replayworker

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/assessment"
	"github.com/wolfman30/symptom-assessment-engine/internal/observability/metrics"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// ErrNotPending is returned by ReplayOne for a report that was already written.
var ErrNotPending = errors.New("replayworker: report is not pending")

// Replayer drains the replay ledger into the primary sink.
type Replayer struct {
	store       assessment.ReplayStore
	sink        assessment.Sink
	metrics     *metrics.DialogueMetrics
	logger      *logging.Logger
	maxAttempts int
	interval    time.Duration
	batchSize   int
}

func NewReplayer(store assessment.ReplayStore, sink assessment.Sink, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{
		store:       store,
		sink:        sink,
		logger:      logger,
		maxAttempts: 20,
		interval:    time.Minute,
		batchSize:   25,
	}
}

// WithMaxAttempts stops automatic retries after n failures; the record stays
// pending for a manual replay.
func (r *Replayer) WithMaxAttempts(n int) *Replayer {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

func (r *Replayer) WithInterval(d time.Duration) *Replayer {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Replayer) WithBatchSize(n int) *Replayer {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Replayer) WithMetrics(m *metrics.DialogueMetrics) *Replayer {
	r.metrics = m
	return r
}

// Run drains once immediately and then on every tick until ctx is done.
func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain replays one batch and returns how many reports were written.
func (r *Replayer) Drain(ctx context.Context) int {
	if r.store == nil || r.sink == nil {
		return 0
	}
	records, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("replay fetch failed", "error", err)
		return 0
	}
	written := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if rec.Attempts >= r.maxAttempts {
			r.logger.Warn("replay attempts exhausted, waiting for manual replay",
				"report_id", rec.ReportID, "attempts", rec.Attempts, "last_error", rec.LastError)
			continue
		}
		if r.replay(ctx, rec) == nil {
			written++
		}
	}
	return written
}

// ReplayOne writes a single pending report regardless of its attempt count.
func (r *Replayer) ReplayOne(ctx context.Context, reportID string) error {
	rec, err := r.store.Get(ctx, reportID)
	if err != nil {
		return err
	}
	if rec.Status != assessment.ReplayPending {
		return ErrNotPending
	}
	return r.replay(ctx, *rec)
}

func (r *Replayer) replay(ctx context.Context, rec assessment.ReplayRecord) error {
	if rec.Report == nil {
		err := errors.New("replay record has no report")
		r.fail(ctx, rec.ReportID, err)
		return err
	}
	if err := r.sink.Save(ctx, rec.Report); err != nil {
		r.fail(ctx, rec.ReportID, err)
		return err
	}
	if err := r.store.MarkReplayed(ctx, rec.ReportID); err != nil {
		// Left pending; Save is idempotent on ReportID.
		r.logger.Error("mark replayed failed", "report_id", rec.ReportID, "error", err)
	}
	r.metrics.ObserveReportReplayed(true)
	r.logger.Info("deferred report persisted", "report_id", rec.ReportID, "attempts", rec.Attempts+1)
	return nil
}

func (r *Replayer) fail(ctx context.Context, reportID string, cause error) {
	r.metrics.ObserveReportReplayed(false)
	r.logger.Warn("report replay failed", "report_id", reportID, "error", cause)
	if err := r.store.RecordFailure(ctx, reportID, cause.Error()); err != nil {
		r.logger.Error("record replay failure failed", "report_id", reportID, "error", err)
	}
}
