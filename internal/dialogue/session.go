// Package dialogue runs the per-session symptom assessment conversation: a pure
// transition function over Session plus the Engine that loads, applies and
// persists one turn at a time.
package dialogue

import (
	"strings"
	"time"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
)

// State is the conversation phase.
type State string

const (
	StateGreeting     State = "GREETING"
	StateConsentCheck State = "CONSENT_CHECK"
	StateSymptom      State = "SYMPTOM"
	StateSafetyCheck  State = "SAFETY_CHECK"
	StateOpenEnded    State = "OPEN_ENDED"
	StateClosing      State = "CLOSING"
	StateTerminated   State = "TERMINATED"
	StateAbandoned    State = "ABANDONED"
)

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateAbandoned
}

// CompletionType records how a session ended.
type CompletionType string

const (
	CompletionCompleted           CompletionType = "completed"
	CompletionAbandoned           CompletionType = "abandoned"
	CompletionNoResponseExhausted CompletionType = "no_response_exhausted"
)

// Safety flag names, asked in this order.
const (
	FlagFever      = "fever"
	FlagWoundIssue = "wound_issue"
)

var safetyOrder = []string{FlagFever, FlagWoundIssue}

// KnownFlag reports whether name is a safety flag the dialogue asks about.
func KnownFlag(name string) bool {
	for _, f := range safetyOrder {
		if f == name {
			return true
		}
	}
	return false
}

// SafetyAnswer is the recorded answer to one safety question.
type SafetyAnswer string

const (
	SafetyYes        SafetyAnswer = "yes"
	SafetyNo         SafetyAnswer = "no"
	SafetyNoResponse SafetyAnswer = "no_response"
)

// Step ids key the retry counters.
const (
	stepConsent = "consent"
	stepClosing = "closing"
)

func symptomStep(id string) string   { return "symptom:" + id }
func safetyStep(flag string) string  { return "safety:" + flag }
func openEndedStep(id string) string { return "open_ended:" + id }

// Session is the mutable per-conversation state. It is owned by the engine,
// serialized between turns and removed once terminal.
type Session struct {
	ID          string          `json:"session_id"`
	PatientID   string          `json:"patient_id"`
	PatientName string          `json:"patient_name,omitempty"`
	PostOpDay   *int            `json:"post_op_day,omitempty"`
	Channel     catalog.Channel `json:"channel"`

	State          State `json:"state"`
	SymptomIndex   int   `json:"current_symptom_index"`
	SafetyIndex    int   `json:"safety_index"`
	OpenEndedIndex int   `json:"open_ended_index"`

	Scores             map[string]int          `json:"scores"`
	Descriptions       map[string]string       `json:"descriptions"`
	Skipped            []string                `json:"skipped,omitempty"`
	SafetyAnswers      map[string]SafetyAnswer `json:"safety_answers"`
	OpenEndedResponses map[string]string       `json:"open_ended_responses"`
	RetryCounts        map[string]int          `json:"retry_counts"`
	ReviewReasons      []string                `json:"review_reasons,omitempty"`

	RedAlertNotified bool           `json:"red_alert_notified,omitempty"`
	TurnCount        int            `json:"turn_count"`
	LastPrompt       Outgoing       `json:"last_prompt"`
	StartedAt        time.Time      `json:"started_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
	CompletionType   CompletionType `json:"completion_type,omitempty"`
}

// NewSession returns a session in GREETING with all maps allocated.
func NewSession(id, patientID string, channel catalog.Channel, at time.Time) Session {
	return Session{
		ID:                 id,
		PatientID:          patientID,
		Channel:            channel,
		State:              StateGreeting,
		Scores:             map[string]int{},
		Descriptions:       map[string]string{},
		SafetyAnswers:      map[string]SafetyAnswer{},
		OpenEndedResponses: map[string]string{},
		RetryCounts:        map[string]int{},
		StartedAt:          at,
		UpdatedAt:          at,
	}
}

// Clone deep-copies s so a transition never aliases the caller's maps.
func (s Session) Clone() Session {
	c := s
	c.Scores = copyMap(s.Scores)
	c.Descriptions = copyMap(s.Descriptions)
	c.SafetyAnswers = copyMap(s.SafetyAnswers)
	c.OpenEndedResponses = copyMap(s.OpenEndedResponses)
	c.RetryCounts = copyMap(s.RetryCounts)
	c.Skipped = append([]string(nil), s.Skipped...)
	c.ReviewReasons = append([]string(nil), s.ReviewReasons...)
	c.LastPrompt.TemplateIDs = append([]string(nil), s.LastPrompt.TemplateIDs...)
	if s.PostOpDay != nil {
		d := *s.PostOpDay
		c.PostOpDay = &d
	}
	if s.EndedAt != nil {
		e := *s.EndedAt
		c.EndedAt = &e
	}
	return c
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SafetyFlags derives the boolean flags from the recorded answers. A
// no_response answer leaves its flag false and is surfaced through review.
func (s Session) SafetyFlags() alert.SafetyFlags {
	return alert.SafetyFlags{
		Fever:      s.SafetyAnswers[FlagFever] == SafetyYes,
		WoundIssue: s.SafetyAnswers[FlagWoundIssue] == SafetyYes,
	}
}

// AlertLevel is recomputed from the current scores and flags on every call.
func (s Session) AlertLevel() alert.Level {
	return alert.Evaluate(s.Scores, s.SafetyFlags())
}

// NeedsReview reports whether a human should look at this assessment.
func (s Session) NeedsReview() bool { return len(s.ReviewReasons) > 0 }

// IsSkipped reports whether the symptom was recorded as no_response.
func (s Session) IsSkipped(id string) bool {
	for _, v := range s.Skipped {
		if v == id {
			return true
		}
	}
	return false
}

// OutcomeCount is the number of distinct symptoms with a score or a skip.
func (s Session) OutcomeCount() int {
	n := len(s.Scores)
	for _, id := range s.Skipped {
		if _, scored := s.Scores[id]; !scored {
			n++
		}
	}
	return n
}

// HasSevereScore reports whether any recorded score is in the severe band.
func (s Session) HasSevereScore() bool {
	for _, v := range s.Scores {
		if catalog.Level(v) == catalog.LevelSevere {
			return true
		}
	}
	return false
}

func (s *Session) addDescription(id, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if prev := s.Descriptions[id]; prev != "" {
		if prev == text {
			return
		}
		text = prev + "；" + text
	}
	s.Descriptions[id] = text
}

func (s *Session) addReviewReason(reason string) {
	for _, r := range s.ReviewReasons {
		if r == reason {
			return
		}
	}
	s.ReviewReasons = append(s.ReviewReasons, reason)
}
