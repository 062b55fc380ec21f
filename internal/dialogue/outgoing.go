package dialogue

import (
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/parser"
)

// Expect tells the channel what kind of answer the reply asks for.
type Expect string

const (
	ExpectConsent  Expect = "consent"
	ExpectScore    Expect = "score"
	ExpectYesNo    Expect = "yes_no"
	ExpectFreeText Expect = "free_text"
	ExpectConfirm  Expect = "confirm"
	ExpectNone     Expect = "none"
)

// Hints returns the speech-recognition vocabulary for an expected answer.
func (e Expect) Hints() []string {
	switch e {
	case ExpectConsent:
		return parser.ConsentHints
	case ExpectScore:
		return parser.NumericHints
	case ExpectYesNo:
		return parser.YesNoHints
	case ExpectConfirm:
		return parser.ConfirmHints
	}
	return nil
}

// Outgoing is the assistant reply for one turn.
type Outgoing struct {
	Text        string         `json:"text"`
	Source      convlog.Source `json:"source"`
	TemplateIDs []string       `json:"template_ids,omitempty"`
	Expect      Expect         `json:"expect"`
}

// PatientInput is the patient side of a turn, as it should be logged.
type PatientInput struct {
	Content          string
	Source           convlog.Source
	RawInput         string
	InputMethod      convlog.InputMethod
	NeedsHumanReview bool
}

// StepNote identifies a step and attempt for retry and skip reporting.
type StepNote struct {
	Step    string
	Attempt int
}

// Outcome is everything a transition produced besides the new session.
type Outcome struct {
	Reply Outgoing
	// Input is nil for events without patient content (no_input, end, abandon).
	Input *PatientInput
	Retry *StepNote
	Skip  *StepNote
}
