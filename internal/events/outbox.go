package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// DefaultMaxAttempts is how often the relay retries one outbox row before
// leaving it parked for an operator.
const DefaultMaxAttempts = 10

// OutboxEntry is a stored envelope awaiting delivery.
type OutboxEntry struct {
	ID        uuid.UUID
	Aggregate string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore keeps report and alert events in Postgres until the relay has
// handed them to the queue.
type OutboxStore struct {
	db          pgxQuerier
	maxAttempts int
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: pool, maxAttempts: DefaultMaxAttempts}
}

func newOutboxStoreWithExec(db pgxQuerier) *OutboxStore {
	return &OutboxStore{db: db, maxAttempts: DefaultMaxAttempts}
}

// WithMaxAttempts caps delivery retries per row.
func (s *OutboxStore) WithMaxAttempts(n int) *OutboxStore {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

// MaxAttempts is the retry cap rows are fetched against.
func (s *OutboxStore) MaxAttempts() int { return s.maxAttempts }

// Append wraps evt in an envelope and inserts it as a pending row.
func (s *OutboxStore) Append(ctx context.Context, aggregate string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationOf(evt), evt)
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	const q = `
		INSERT INTO outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, q, env.EventID, env.Aggregate, env.EventType, body); err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}

// FetchPending returns undelivered rows that still have attempts left,
// oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	const q = `
		SELECT id, aggregate, event_type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, q, limit, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Aggregate, &e.Type, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		e.Payload = append(json.RawMessage(nil), payload...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered reports false when another relay got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed bumps the attempt count and keeps the last error for inspection.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

type outboxSource interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	MaxAttempts() int
}

// Deliverer relays pending outbox rows to a DeliveryHandler on a ticker.
type Deliverer struct {
	store     outboxSource
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{handler: handler, logger: logger, batchSize: 25, interval: 2 * time.Second}
	if store != nil {
		d.store = store
	}
	return d
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains on every tick until ctx ends.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were delivered.
// A failed entry is retried on later ticks until it runs out of attempts.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if herr := d.handler.Handle(ctx, entry); herr != nil {
			d.fail(ctx, entry, herr)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered
}

func (d *Deliverer) fail(ctx context.Context, entry OutboxEntry, cause error) {
	if err := d.store.MarkFailed(ctx, entry.ID, cause); err != nil {
		d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID)
	}
	attempt := entry.Attempts + 1
	if attempt >= d.store.MaxAttempts() {
		d.logger.Warn("outbox entry parked", "event_id", entry.ID, "type", entry.Type, "attempts", attempt, "error", cause)
		return
	}
	d.logger.Error("outbox delivery failed", "event_id", entry.ID, "type", entry.Type, "attempt", attempt, "error", cause)
}
