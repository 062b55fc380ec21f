package convlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLog persists sessions and messages to dialogue_sessions and dialogue_messages.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog returns nil when db is nil so callers can wire it unconditionally.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	if db == nil {
		return nil
	}
	return &PostgresLog{db: db}
}

func (l *PostgresLog) BeginSession(ctx context.Context, rec SessionRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dialogue_sessions (session_id, patient_id, channel, started_at, message_count)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (session_id) DO NOTHING
	`, rec.SessionID, rec.PatientID, rec.Channel, started)
	if err != nil {
		return fmt.Errorf("convlog: begin session: %w", err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, msg Message) error {
	if l == nil || l.db == nil {
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO dialogue_messages (
			id, session_id, patient_id, role, content, source, raw_input, template_id,
			input_method, needs_human_review, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.SessionID, msg.PatientID, string(msg.Role), msg.Content, string(msg.Source),
		nullable(msg.RawInput), nullable(msg.TemplateID), nullable(string(msg.InputMethod)), msg.NeedsHumanReview, ts)
	if err != nil {
		return fmt.Errorf("convlog: insert message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("convlog: read insert result: %w", err)
	}
	if rowsAffected == 0 {
		return nil
	}

	_, err = l.db.ExecContext(ctx, `
		UPDATE dialogue_sessions SET
			message_count = message_count + 1,
			last_message_at = $1
		WHERE session_id = $2
	`, ts, msg.SessionID)
	if err != nil {
		return fmt.Errorf("convlog: update session counters: %w", err)
	}
	return nil
}

func (l *PostgresLog) EndSession(ctx context.Context, sessionID, completionType string, at time.Time) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE dialogue_sessions SET ended_at = $1, completion_type = $2
		WHERE session_id = $3 AND ended_at IS NULL
	`, at.UTC(), completionType, sessionID)
	if err != nil {
		return fmt.Errorf("convlog: end session: %w", err)
	}
	return nil
}

func (l *PostgresLog) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	query := `
		SELECT id, session_id, patient_id, role, content, source, raw_input, template_id,
			input_method, needs_human_review, created_at
		FROM (
			SELECT * FROM dialogue_messages WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := l.db.QueryContext(ctx, query, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("convlog: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                                 Message
			role, source                      string
			rawInput, templateID, inputMethod sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.PatientID, &role, &m.Content, &source,
			&rawInput, &templateID, &inputMethod, &m.NeedsHumanReview, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("convlog: scan message: %w", err)
		}
		m.Role = Role(role)
		m.Source = Source(source)
		m.RawInput = rawInput.String
		m.TemplateID = templateID.String
		m.InputMethod = InputMethod(inputMethod.String)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Log = (*PostgresLog)(nil)
