package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// HandlerFunc processes a decoded envelope.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Consumer drains a queue and dispatches envelopes by event type.
// Messages are deleted only after their handler succeeds.
type Consumer struct {
	queue       Queue
	handlers    map[string]HandlerFunc
	logger      *logging.Logger
	batchSize   int
	waitSeconds int
}

func NewConsumer(queue Queue, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       queue,
		handlers:    make(map[string]HandlerFunc),
		logger:      logger,
		batchSize:   10,
		waitSeconds: 10,
	}
}

// Handle registers fn for eventType.
func (c *Consumer) Handle(eventType string, fn HandlerFunc) *Consumer {
	c.handlers[eventType] = fn
	return c
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.logger.Error("event poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll receives one batch and returns the number of messages handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
			c.logger.Warn("dropping malformed event", "message_id", msg.ID, "error", err)
			_ = c.queue.Delete(ctx, msg.ReceiptHandle)
			continue
		}
		fn, ok := c.handlers[env.EventType]
		if !ok {
			_ = c.queue.Delete(ctx, msg.ReceiptHandle)
			continue
		}
		if err := fn(ctx, env); err != nil {
			c.logger.Error("event handler failed", "type", env.EventType, "event_id", env.EventID, "error", err)
			continue
		}
		if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			c.logger.Warn("event delete failed", "message_id", msg.ID, "error", err)
		}
		handled++
	}
	return handled, nil
}
