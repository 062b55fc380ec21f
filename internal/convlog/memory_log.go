package convlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps messages in process. Used by the CLI simulator and tests.
type MemoryLog struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	seen     map[string]struct{}
}

type memorySession struct {
	record         SessionRecord
	messages       []Message
	endedAt        *time.Time
	completionType string
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		sessions: make(map[string]*memorySession),
		seen:     make(map[string]struct{}),
	}
}

func (l *MemoryLog) session(id string) *memorySession {
	s, ok := l.sessions[id]
	if !ok {
		s = &memorySession{record: SessionRecord{SessionID: id}}
		l.sessions[id] = s
	}
	return s
}

func (l *MemoryLog) BeginSession(ctx context.Context, rec SessionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.session(rec.SessionID)
	if s.record.StartedAt.IsZero() {
		s.record = rec
	}
	return nil
}

func (l *MemoryLog) Append(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[msg.ID]; dup {
		return nil
	}
	l.seen[msg.ID] = struct{}{}
	s := l.session(msg.SessionID)
	s.messages = append(s.messages, msg)
	return nil
}

func (l *MemoryLog) EndSession(ctx context.Context, sessionID, completionType string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.session(sessionID)
	if s.endedAt == nil {
		s.endedAt = &at
		s.completionType = completionType
	}
	return nil
}

func (l *MemoryLog) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return []Message{}, nil
	}
	msgs := s.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

// CompletionType returns how a session ended, or "" while it is open.
func (l *MemoryLog) CompletionType(sessionID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.sessions[sessionID]; ok {
		return s.completionType
	}
	return ""
}

var _ Log = (*MemoryLog)(nil)
