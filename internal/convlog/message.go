// Package convlog is the append-only record of every message exchanged in a
// dialogue session, kept apart from the mutable session state.
package convlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role is who produced a message.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RolePatient || r == RoleAssistant }

// Source is where a message's content came from.
type Source string

const (
	SourceRawInput       Source = "raw_input"
	SourceButton         Source = "button"
	SourceAIGenerated    Source = "ai_generated"
	SourceExpertTemplate Source = "expert_template"
	SourceSystemAuto     Source = "system_auto"
)

func (s Source) Valid() bool {
	switch s {
	case SourceRawInput, SourceButton, SourceAIGenerated, SourceExpertTemplate, SourceSystemAuto:
		return true
	}
	return false
}

// InputMethod is how a patient message was entered.
type InputMethod string

const (
	InputText   InputMethod = "text"
	InputButton InputMethod = "button"
	InputVoice  InputMethod = "voice"
)

// Message is immutable once appended.
type Message struct {
	ID               string      `json:"message_id"`
	SessionID        string      `json:"session_id"`
	PatientID        string      `json:"patient_id"`
	Role             Role        `json:"role"`
	Content          string      `json:"content"`
	Source           Source      `json:"source"`
	RawInput         string      `json:"raw_input,omitempty"`
	TemplateID       string      `json:"template_id,omitempty"`
	InputMethod      InputMethod `json:"input_method,omitempty"`
	NeedsHumanReview bool        `json:"needs_human_review,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

var ErrInvalidMessage = errors.New("convlog: invalid message")

// Validate checks the required fields and enum values.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	case m.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrInvalidMessage)
	case !m.Role.Valid():
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role)
	case !m.Source.Valid():
		return fmt.Errorf("%w: source %q", ErrInvalidMessage, m.Source)
	}
	return nil
}

// SessionRecord is the lifecycle row written when a session starts.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id"`
	Channel   string    `json:"channel"`
	StartedAt time.Time `json:"started_at"`
}

// Log is the conversation log contract. Append must be idempotent on message id.
type Log interface {
	BeginSession(ctx context.Context, rec SessionRecord) error
	Append(ctx context.Context, msg Message) error
	EndSession(ctx context.Context, sessionID, completionType string, at time.Time) error
	// Messages returns up to limit most recent messages, oldest first. limit <= 0 means all.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
}
