package bootstrap

import (
	"context"

	"golang.org/x/sync/errgroup"

	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/events"
	completionworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/completion"
	replayworker "github.com/wolfman30/symptom-assessment-engine/internal/worker/replay"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// Workers are the background loops that finish what a turn started: the
// outbox relay, the completion consumer and the deferred-report replayer.
type Workers struct {
	Replayer  *replayworker.Replayer
	Deliverer *events.Deliverer
	Consumer  *events.Consumer
	logger    *logging.Logger
}

// BuildWorkers wires the loops over rt. The outbox relay exists only when
// events are written to Postgres first.
func BuildWorkers(cfg *appconfig.Config, rt *Runtime, logger *logging.Logger) *Workers {
	if logger == nil {
		logger = logging.Default()
	}
	replayer := replayworker.NewReplayer(rt.Replays, rt.Sink, logger).
		WithInterval(cfg.ReplayInterval).
		WithMetrics(rt.Metrics)

	w := &Workers{Replayer: replayer, logger: logger}
	if rt.Outbox != nil {
		w.Deliverer = events.NewDeliverer(rt.Outbox, events.NewQueueForwarder(rt.Queue), logger).
			WithInterval(cfg.OutboxInterval)
	}
	w.Consumer = completionworker.NewHandlers(replayer, logger).Register(events.NewConsumer(rt.Queue, logger))
	return w
}

// Run blocks until ctx is cancelled or the consumer fails.
func (w *Workers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.Replayer.Run(ctx)
		return nil
	})
	if w.Deliverer != nil {
		g.Go(func() error {
			w.Deliverer.Start(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return w.Consumer.Run(ctx)
	})
	w.logger.Info("assessment workers started", "outbox_relay", w.Deliverer != nil)
	err := g.Wait()
	w.logger.Info("assessment workers stopped")
	return err
}
