package dialogue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
)

// EventType is the kind of patient-originated turn.
type EventType string

const (
	EventButtonScore EventType = "button_score"
	EventFreeText    EventType = "free_text"
	EventSafetyFlag  EventType = "safety_flag"
	EventEnd         EventType = "end"
	EventNoInput     EventType = "no_input"
	EventAbandon     EventType = "abandon"
)

// Event is one turn delivered by a channel adapter. ID makes redelivery idempotent.
type Event struct {
	ID          string              `json:"event_id,omitempty"`
	Type        EventType           `json:"type"`
	Score       *int                `json:"score,omitempty"`
	Text        string              `json:"text,omitempty"`
	Flag        string              `json:"flag,omitempty"`
	Value       *bool               `json:"value,omitempty"`
	InputMethod convlog.InputMethod `json:"input_method,omitempty"`
	At          time.Time           `json:"at,omitempty"`
}

func ButtonScore(score int) Event {
	return Event{Type: EventButtonScore, Score: &score, InputMethod: convlog.InputButton}
}

func FreeText(text string) Event {
	return Event{Type: EventFreeText, Text: text, InputMethod: convlog.InputText}
}

// Speech is a free_text event carrying a speech-recognition transcript.
func Speech(transcript string) Event {
	return Event{Type: EventFreeText, Text: transcript, InputMethod: convlog.InputVoice}
}

func SafetyFlag(name string, value bool) Event {
	return Event{Type: EventSafetyFlag, Flag: name, Value: &value, InputMethod: convlog.InputButton}
}

func End() Event     { return Event{Type: EventEnd} }
func NoInput() Event { return Event{Type: EventNoInput} }
func Abandon() Event { return Event{Type: EventAbandon} }

// WithID returns a copy of e carrying the idempotency key id.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

var ErrInvalidEvent = errors.New("dialogue: invalid event")

// Validate checks the payload required by each event type.
func (e Event) Validate() error {
	switch e.Type {
	case EventButtonScore:
		if e.Score == nil || *e.Score < 0 || *e.Score > catalog.MaxScore {
			return fmt.Errorf("%w: button_score needs a score in 0..%d", ErrInvalidEvent, catalog.MaxScore)
		}
	case EventSafetyFlag:
		if !KnownFlag(e.Flag) {
			return fmt.Errorf("%w: unknown safety flag %q", ErrInvalidEvent, e.Flag)
		}
		if e.Value == nil {
			return fmt.Errorf("%w: safety_flag needs a value", ErrInvalidEvent)
		}
	case EventFreeText, EventEnd, EventNoInput, EventAbandon:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// normalized maps blank free text to no_input.
func (e Event) normalized() Event {
	if e.Type == EventFreeText && strings.TrimSpace(e.Text) == "" {
		e.Type = EventNoInput
		e.Text = ""
	}
	return e
}
