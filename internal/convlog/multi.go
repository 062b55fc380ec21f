package convlog

import (
	"context"
	"errors"
	"time"
)

// Multi writes to every configured log and reads from the first one.
// Nil entries are skipped so optional backends can be passed directly.
type Multi struct {
	logs []Log
}

// NewMulti builds a fan-out log. The first non-nil log serves reads.
func NewMulti(logs ...Log) *Multi {
	m := &Multi{}
	for _, l := range logs {
		if l == nil || isNilLog(l) {
			continue
		}
		m.logs = append(m.logs, l)
	}
	return m
}

func isNilLog(l Log) bool {
	switch v := l.(type) {
	case *PostgresLog:
		return v == nil
	case *RedisTranscript:
		return v == nil
	case *MemoryLog:
		return v == nil
	}
	return false
}

func (m *Multi) BeginSession(ctx context.Context, rec SessionRecord) error {
	var errs []error
	for _, l := range m.logs {
		errs = append(errs, l.BeginSession(ctx, rec))
	}
	return errors.Join(errs...)
}

func (m *Multi) Append(ctx context.Context, msg Message) error {
	var errs []error
	for _, l := range m.logs {
		errs = append(errs, l.Append(ctx, msg))
	}
	return errors.Join(errs...)
}

func (m *Multi) EndSession(ctx context.Context, sessionID, completionType string, at time.Time) error {
	var errs []error
	for _, l := range m.logs {
		errs = append(errs, l.EndSession(ctx, sessionID, completionType, at))
	}
	return errors.Join(errs...)
}

func (m *Multi) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if len(m.logs) == 0 {
		return []Message{}, nil
	}
	return m.logs[0].Messages(ctx, sessionID, limit)
}

// Len is the number of active backends.
func (m *Multi) Len() int { return len(m.logs) }

var _ Log = (*Multi)(nil)
