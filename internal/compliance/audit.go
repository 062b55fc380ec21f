// Package compliance keeps the access trail for staff actions on patient data
// and clinician content.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType names a staff action.
type AuditEventType string

const (
	EventTemplateUpdated  AuditEventType = "template.updated"
	EventSessionViewed    AuditEventType = "session.viewed"
	EventTranscriptViewed AuditEventType = "transcript.viewed"
	EventReportViewed     AuditEventType = "report.viewed"
	EventReplayRetried    AuditEventType = "replay.retried"
)

// AuditEvent is one immutable audit record. SubjectID is the template,
// session or report the action touched.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	Actor     string          `json:"actor"`
	ActorRole string          `json:"actor_role,omitempty"`
	SubjectID string          `json:"subject_id"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter narrows a trail query. Zero fields match everything.
type AuditFilter struct {
	Actor     string
	SubjectID string
	EventType AuditEventType
	Since     time.Time
	Limit     int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	return (f.Actor == "" || e.Actor == f.Actor) &&
		(f.SubjectID == "" || e.SubjectID == f.SubjectID) &&
		(f.EventType == "" || e.EventType == f.EventType) &&
		(f.Since.IsZero() || !e.CreatedAt.Before(f.Since))
}

// Trail records and lists audit events.
type Trail interface {
	Record(ctx context.Context, event AuditEvent) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// NewEvent fills ID and CreatedAt and encodes details, which may be nil.
func NewEvent(kind AuditEventType, actor, role, subjectID string, details any) AuditEvent {
	ev := AuditEvent{
		ID:        uuid.NewString(),
		EventType: kind,
		Actor:     actor,
		ActorRole: role,
		SubjectID: subjectID,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			ev.Details = raw
		}
	}
	return ev
}

// SQLTrail stores events in the audit_events table.
type SQLTrail struct {
	db *sql.DB
}

func NewSQLTrail(db *sql.DB) *SQLTrail {
	return &SQLTrail{db: db}
}

func (s *SQLTrail) Record(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, actor, actor_role, subject_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID,
		event.EventType,
		event.Actor,
		nullString(event.ActorRole),
		event.SubjectID,
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: record audit event: %w", err)
	}
	return nil
}

func (s *SQLTrail) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, actor, actor_role, subject_id, details, created_at
		FROM audit_events
		WHERE 1 = 1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if filter.Actor != "" {
		add("actor =", filter.Actor)
	}
	if filter.SubjectID != "" {
		add("subject_id =", filter.SubjectID)
	}
	if filter.EventType != "" {
		add("event_type =", filter.EventType)
	}
	if !filter.Since.IsZero() {
		add("created_at >=", filter.Since)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			e       AuditEvent
			role    sql.NullString
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &role, &e.SubjectID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: scan audit event: %w", err)
		}
		e.ActorRole = role.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryTrail keeps events in process for local runs and tests.
type MemoryTrail struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewMemoryTrail() *MemoryTrail { return &MemoryTrail{} }

func (m *MemoryTrail) Record(_ context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTrail) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEvent
	for _, e := range m.events {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var (
	_ Trail = (*SQLTrail)(nil)
	_ Trail = (*MemoryTrail)(nil)
)

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
