package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent is a versioned assessment event. EventType carries the
// version suffix, e.g. "assessment.report.completed.v1".
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the wire form shared by the outbox, the queue and consumers.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// OccurredAt converts the microsecond timestamp back to UTC time.
func (e Envelope) OccurredAt() time.Time {
	return time.UnixMicro(e.TimestampMicros).UTC()
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Correlated events name the dialogue session they came from.
type Correlated interface {
	CorrelationKey() string
}

func correlationOf(evt CanonicalEvent) string {
	if c, ok := evt.(Correlated); ok {
		return c.CorrelationKey()
	}
	return ""
}

// EnvelopeOption adjusts a freshly built envelope.
type EnvelopeOption func(*Envelope)

// WithEventID pins the event id; uuid.Nil is ignored.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp pins the event time; the zero time is ignored.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.TimestampMicros = ts.UTC().UnixMicro()
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	errMissingType      = errors.New("events: event type missing")
)

// NewEnvelope marshals evt and stamps it with a fresh id and the current time.
// correlationID is usually the dialogue session id.
func NewEnvelope(aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	switch {
	case aggregate == "":
		return Envelope{}, errMissingAggregate
	case evt == nil:
		return Envelope{}, errNilEvent
	}
	kind := strings.TrimSpace(evt.EventType())
	if kind == "" {
		return Envelope{}, errMissingType
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", kind, err)
	}

	env := Envelope{
		EventID:         uuid.New(),
		EventType:       kind,
		Aggregate:       aggregate,
		TimestampMicros: time.Now().UTC().UnixMicro(),
		CorrelationID:   strings.TrimSpace(correlationID),
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}
