package dialogue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	"github.com/wolfman30/symptom-assessment-engine/internal/convlog"
	"github.com/wolfman30/symptom-assessment-engine/internal/parser"
	"github.com/wolfman30/symptom-assessment-engine/internal/retry"
	"github.com/wolfman30/symptom-assessment-engine/internal/templates"
)

var (
	// ErrSessionClosed is returned for any event on a terminal session.
	ErrSessionClosed = errors.New("dialogue: session closed")
	// ErrIncompleteAssessment guards TERMINATED against missing symptom outcomes.
	ErrIncompleteAssessment = errors.New("dialogue: assessment incomplete")
)

// Machine is the pure transition function. It holds only read-only
// collaborators and is safe for concurrent use.
type Machine struct {
	catalog *catalog.Catalog
	matcher *templates.Matcher
	retries retry.Controller
	script  Script
}

// NewMachine wires a machine. A nil catalog or matcher falls back to the
// built-in catalog and a random-variation matcher; a zero retry.Controller
// uses the default retry budget.
func NewMachine(cat *catalog.Catalog, matcher *templates.Matcher, retries retry.Controller, script Script) *Machine {
	if cat == nil {
		cat = catalog.Default()
	}
	if matcher == nil {
		matcher = templates.NewMatcher(nil)
	}
	if script.ClinicName == "" || script.AssistantName == "" {
		def := DefaultScript()
		if script.ClinicName == "" {
			script.ClinicName = def.ClinicName
		}
		if script.AssistantName == "" {
			script.AssistantName = def.AssistantName
		}
	}
	return &Machine{catalog: cat, matcher: matcher, retries: retries, script: script}
}

// Catalog exposes the symptom catalog the machine walks.
func (m *Machine) Catalog() *catalog.Catalog { return m.catalog }

// turn accumulates one transition's reply.
type turn struct {
	s        Session
	tpl      []templates.Template
	parts    []string
	source   convlog.Source
	tplIDs   []string
	expect   Expect
	out      Outcome
	terminal bool
}

var sourceRank = map[convlog.Source]int{
	convlog.SourceSystemAuto:     0,
	convlog.SourceAIGenerated:    1,
	convlog.SourceExpertTemplate: 2,
}

func (t *turn) say(text string) {
	if text != "" {
		t.parts = append(t.parts, text)
	}
}

func (t *turn) sayAs(text string, src convlog.Source) {
	t.say(text)
	if sourceRank[src] > sourceRank[t.source] {
		t.source = src
	}
}

func (t *turn) useTemplate(m templates.Match) {
	t.sayAs(m.Text, convlog.SourceExpertTemplate)
	t.tplIDs = append(t.tplIDs, m.Template.ID)
}

func (t *turn) reply() Outgoing {
	sep := "\n\n"
	if t.s.Channel == catalog.ChannelVoice {
		sep = ""
	}
	return Outgoing{
		Text:        strings.Join(t.parts, sep),
		Source:      t.source,
		TemplateIDs: t.tplIDs,
		Expect:      t.expect,
	}
}

func (t *turn) markAmbiguous() {
	if t.out.Input != nil {
		t.out.Input.NeedsHumanReview = true
	}
}

func (m *Machine) newTurn(s Session, tpl []templates.Template) *turn {
	return &turn{s: s, tpl: tpl, source: convlog.SourceSystemAuto, expect: ExpectNone}
}

func (m *Machine) finish(t *turn) (Session, Outcome) {
	t.out.Reply = t.reply()
	if !t.s.State.Terminal() {
		t.s.LastPrompt = t.out.Reply
	}
	return t.s, t.out
}

// Start emits the greeting and moves a new session to CONSENT_CHECK.
func (m *Machine) Start(s Session, tpl []templates.Template) (Session, Outcome, error) {
	if s.State != StateGreeting {
		return s, Outcome{}, fmt.Errorf("%w: session already started", ErrInvalidEvent)
	}
	if !s.Channel.Valid() {
		return s, Outcome{}, fmt.Errorf("%w: channel %q", ErrInvalidEvent, s.Channel)
	}
	t := m.newTurn(s.Clone(), tpl)
	m.greet(t)
	t.s.State = StateConsentCheck
	t.say(consentQuestion(t.s.Channel))
	t.expect = ExpectConsent
	s, out := m.finish(t)
	return s, out, nil
}

func (m *Machine) greet(t *turn) {
	if t.s.Channel == catalog.ChannelChat {
		ctx := m.templateContext(t.s)
		ctx.TimeOfDay = templates.TimeOfDayAt(t.s.StartedAt)
		if match, ok := m.matcher.Match(t.tpl, templates.Query{Category: templates.CategoryGreeting, Context: ctx}); ok && !templates.HasPlaceholders(match.Text) {
			t.useTemplate(match)
			return
		}
	}
	t.say(m.script.greeting(t.s, m.catalog.Size(t.s.Channel)))
}

// Apply advances s by one event. s is never mutated; the returned session is a
// fresh copy. Terminal sessions reject every event with ErrSessionClosed.
func (m *Machine) Apply(s Session, ev Event, tpl []templates.Template) (Session, Outcome, error) {
	if s.State.Terminal() {
		return s, Outcome{}, ErrSessionClosed
	}
	if s.State == StateGreeting {
		return s, Outcome{}, fmt.Errorf("%w: session not started", ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return s, Outcome{}, err
	}
	ev = ev.normalized()

	t := m.newTurn(s.Clone(), tpl)
	t.s.TurnCount++
	if !ev.At.IsZero() {
		t.s.UpdatedAt = ev.At
	}
	t.out.Input = patientInput(ev)

	switch {
	case ev.Type == EventAbandon:
		m.abandon(t, ev, CompletionAbandoned, abandoned(t.s.Channel))
	case ev.Type == EventEnd && t.s.State != StateClosing:
		m.abandon(t, ev, CompletionAbandoned, abandoned(t.s.Channel))
	case ev.Type == EventSafetyFlag && t.s.State != StateSafetyCheck:
		m.onEarlyFlag(t, ev)
	default:
		switch t.s.State {
		case StateConsentCheck:
			m.onConsent(t, ev)
		case StateSymptom:
			m.onSymptom(t, ev)
		case StateSafetyCheck:
			m.onSafety(t, ev)
		case StateOpenEnded:
			m.onOpenEnded(t, ev)
		case StateClosing:
			m.onClosing(t, ev)
		default:
			return s, Outcome{}, fmt.Errorf("dialogue: unknown state %q", t.s.State)
		}
	}

	if t.s.State == StateTerminated && t.s.OutcomeCount() < m.catalog.Size(t.s.Channel) {
		return s, Outcome{}, fmt.Errorf("%w: %d of %d symptoms", ErrIncompleteAssessment, t.s.OutcomeCount(), m.catalog.Size(t.s.Channel))
	}
	next, out := m.finish(t)
	return next, out, nil
}

func patientInput(ev Event) *PatientInput {
	switch ev.Type {
	case EventButtonScore:
		return &PatientInput{Content: fmt.Sprintf("%d 分", *ev.Score), Source: convlog.SourceButton, InputMethod: convlog.InputButton}
	case EventSafetyFlag:
		answer := "沒有"
		if *ev.Value {
			answer = "有"
		}
		return &PatientInput{Content: flagDisplayName(ev.Flag) + "：" + answer, Source: convlog.SourceButton, InputMethod: convlog.InputButton}
	case EventFreeText:
		method := ev.InputMethod
		if method == "" {
			method = convlog.InputText
		}
		return &PatientInput{Content: ev.Text, Source: convlog.SourceRawInput, RawInput: ev.Text, InputMethod: method}
	}
	return nil
}

func (m *Machine) abandon(t *turn, ev Event, ct CompletionType, text string) {
	t.say(text)
	t.s.State = StateAbandoned
	t.s.CompletionType = ct
	m.stamp(t, ev)
}

func (m *Machine) stamp(t *turn, ev Event) {
	at := ev.At
	if at.IsZero() {
		at = t.s.UpdatedAt
	}
	t.s.EndedAt = &at
}

// retryOr spends one retry on step. On retry it says prefix and calls reprompt;
// once the budget is spent it calls exhausted instead.
func (m *Machine) retryOr(t *turn, step, prefix string, reprompt, exhausted func()) {
	d := m.retries.OnNoOrAmbiguousInput(t.s.RetryCounts, step)
	if d.Action == retry.ActionRetry {
		t.out.Retry = &StepNote{Step: step, Attempt: d.Attempt}
		t.say(prefix)
		reprompt()
		return
	}
	t.out.Skip = &StepNote{Step: step, Attempt: d.Attempt}
	exhausted()
}

func (m *Machine) apology(t *turn, ev Event) string {
	if ev.Type == EventNoInput {
		return noInputApology(t.s.Channel)
	}
	t.markAmbiguous()
	return unclearApology
}

// consent

func (m *Machine) onConsent(t *turn, ev Event) {
	answer := parser.Unclear
	if ev.Type == EventFreeText {
		answer = parser.ParseYesNo(ev.Text, parser.ConsentVocabulary)
	}
	switch answer {
	case parser.Yes:
		t.say(consentAccepted(t.s.Channel))
		t.s.State = StateSymptom
		t.s.SymptomIndex = 0
		m.askCurrent(t)
	case parser.No:
		m.abandon(t, ev, CompletionAbandoned, consentDeclined(t.s.Channel))
	default:
		m.retryOr(t, stepConsent, m.apology(t, ev),
			func() {
				t.say(consentQuestion(t.s.Channel))
				t.expect = ExpectConsent
			},
			func() { m.abandon(t, ev, CompletionNoResponseExhausted, consentExhausted(t.s.Channel)) })
	}
}

// symptoms

func (m *Machine) currentSymptom(s Session) (catalog.SymptomDefinition, bool) {
	defs := m.catalog.ForChannel(s.Channel)
	if s.SymptomIndex < 0 || s.SymptomIndex >= len(defs) {
		return catalog.SymptomDefinition{}, false
	}
	return defs[s.SymptomIndex], true
}

func (m *Machine) onSymptom(t *turn, ev Event) {
	def, ok := m.currentSymptom(t.s)
	if !ok {
		m.enterSafety(t)
		return
	}
	step := symptomStep(def.ID)
	reask := func() { m.askCurrent(t) }
	skip := func() {
		t.say(skipAcknowledgement)
		m.skipSymptom(t, def)
	}

	switch ev.Type {
	case EventButtonScore:
		m.recordScore(t, def, *ev.Score, "", "")
	case EventFreeText:
		r := parser.Parse(ev.Text)
		if r.HasScore() {
			m.recordScore(t, def, *r.Score, r.Description, ev.Text)
			return
		}
		if len([]rune(r.Description)) >= parser.MinDescriptionRunes {
			t.s.addDescription(def.ID, r.Description)
			t.markAmbiguous()
			m.retryOr(t, step, "", func() {
				t.say(clarifyScore(def, t.s.Channel))
				t.expect = ExpectScore
			}, skip)
			return
		}
		m.retryOr(t, step, m.apology(t, ev), reask, skip)
	default:
		m.retryOr(t, step, m.apology(t, ev), reask, skip)
	}
}

func (m *Machine) askCurrent(t *turn) {
	def, ok := m.currentSymptom(t.s)
	if !ok {
		m.enterSafety(t)
		return
	}
	t.say(symptomPrompt(def, t.s.Channel, t.s.SymptomIndex, m.catalog.Size(t.s.Channel)))
	t.expect = ExpectScore
}

func (m *Machine) recordScore(t *turn, def catalog.SymptomDefinition, score int, description, raw string) {
	t.s.Scores[def.ID] = score
	t.s.addDescription(def.ID, description)
	m.acknowledge(t, def, score, raw)
	m.advanceSymptom(t)
}

func (m *Machine) skipSymptom(t *turn, def catalog.SymptomDefinition) {
	if !t.s.IsSkipped(def.ID) {
		t.s.Skipped = append(t.s.Skipped, def.ID)
	}
	m.advanceSymptom(t)
}

func (m *Machine) advanceSymptom(t *turn) {
	t.s.SymptomIndex++
	if t.s.SymptomIndex < m.catalog.Size(t.s.Channel) {
		m.askCurrent(t)
		return
	}
	m.enterSafety(t)
}

func (m *Machine) templateContext(s Session) templates.Context {
	return templates.Context{PatientName: s.PatientName, PostOpDay: s.PostOpDay}
}

func (m *Machine) acknowledge(t *turn, def catalog.SymptomDefinition, score int, raw string) {
	ctx := m.templateContext(t.s)
	ctx.Score = &score
	ctx.SymptomName = def.DisplayName
	ctx.ScoreLabel = def.Label(score)
	q := templates.Query{
		Category:    templates.CategorySymptomResponse,
		SymptomType: def.ID,
		Score:       &score,
		Context:     ctx,
	}
	if raw != "" {
		q.Keywords = []string{raw}
	}
	if match, ok := m.matcher.Match(t.tpl, q); ok && !templates.HasPlaceholders(match.Text) {
		t.useTemplate(match)
	} else {
		t.sayAs(generatedAcknowledgement(def, score, t.s.Descriptions[def.ID], t.s.Channel), convlog.SourceAIGenerated)
	}

	q.Category = templates.CategoryEmotionalSupport
	if match, ok := m.matcher.Match(t.tpl, q); ok && !templates.HasPlaceholders(match.Text) {
		t.useTemplate(match)
	}
}

// safety

func (m *Machine) enterSafety(t *turn) {
	t.s.State = StateSafetyCheck
	t.s.SafetyIndex = 0
	t.say(safetyIntro(t.s.Channel))
	m.advanceSafety(t)
}

// onEarlyFlag records a safety button pressed outside the safety questions
// and repeats the current prompt. No retry is spent, and the safety check
// later skips the flag. A recorded yes is never downgraded here.
func (m *Machine) onEarlyFlag(t *turn, ev Event) {
	if t.s.SafetyAnswers == nil {
		t.s.SafetyAnswers = map[string]SafetyAnswer{}
	}
	answer := boolAnswer(*ev.Value)
	if t.s.SafetyAnswers[ev.Flag] == SafetyYes {
		answer = SafetyYes
	}
	m.recordSafety(t, ev.Flag, answer)

	switch t.s.State {
	case StateConsentCheck:
		t.say(consentQuestion(t.s.Channel))
		t.expect = ExpectConsent
	case StateSymptom:
		m.askCurrent(t)
	case StateOpenEnded:
		m.askOpenEnded(t)
	case StateClosing:
		m.sayClosing(t)
	}
}

func (m *Machine) askSafety(t *turn) {
	if t.s.SafetyIndex >= len(safetyOrder) {
		m.enterOpenEnded(t)
		return
	}
	t.say(safetyQuestion(safetyOrder[t.s.SafetyIndex], t.s.Channel))
	t.expect = ExpectYesNo
}

func (m *Machine) onSafety(t *turn, ev Event) {
	if t.s.SafetyIndex >= len(safetyOrder) {
		m.enterOpenEnded(t)
		return
	}
	flag := safetyOrder[t.s.SafetyIndex]

	switch ev.Type {
	case EventSafetyFlag:
		// A button for either question is recorded against the flag it names.
		m.recordSafety(t, ev.Flag, boolAnswer(*ev.Value))
		if ev.Flag == flag {
			m.advanceSafety(t)
		} else {
			m.askSafety(t)
		}
		return
	case EventFreeText:
		switch parser.ParseYesNo(ev.Text, parser.PresenceVocabulary) {
		case parser.Yes:
			m.recordSafety(t, flag, SafetyYes)
			m.advanceSafety(t)
			return
		case parser.No:
			m.recordSafety(t, flag, SafetyNo)
			m.advanceSafety(t)
			return
		}
	}

	m.retryOr(t, safetyStep(flag), m.apology(t, ev),
		func() {
			t.say(safetyQuestion(flag, t.s.Channel))
			t.expect = ExpectYesNo
		},
		func() {
			m.recordSafety(t, flag, SafetyNoResponse)
			t.s.addReviewReason(safetyReviewReason(flag))
			m.advanceSafety(t)
		})
}

func boolAnswer(v bool) SafetyAnswer {
	if v {
		return SafetyYes
	}
	return SafetyNo
}

func (m *Machine) recordSafety(t *turn, flag string, answer SafetyAnswer) {
	t.s.SafetyAnswers[flag] = answer
	t.say(safetyRecorded(flag, answer))
}

func (m *Machine) advanceSafety(t *turn) {
	for t.s.SafetyIndex < len(safetyOrder) {
		if _, answered := t.s.SafetyAnswers[safetyOrder[t.s.SafetyIndex]]; !answered {
			break
		}
		t.s.SafetyIndex++
	}
	m.askSafety(t)
}

// open-ended

func (m *Machine) enterOpenEnded(t *turn) {
	t.s.State = StateOpenEnded
	t.s.OpenEndedIndex = 0
	if len(m.catalog.OpenEnded(t.s.Channel)) == 0 {
		m.enterClosing(t)
		return
	}
	t.say(openEndedIntro(t.s.Channel))
	m.askOpenEnded(t)
}

func (m *Machine) askOpenEnded(t *turn) {
	qs := m.catalog.OpenEnded(t.s.Channel)
	if t.s.OpenEndedIndex >= len(qs) {
		m.enterClosing(t)
		return
	}
	q := qs[t.s.OpenEndedIndex]
	t.say(openEndedPrompt(q, m.openEndedHint(t.s, q), t.s.Channel))
	t.expect = ExpectFreeText
}

// openEndedHint points the symptom-detail question at the worst symptom when
// it scored moderate or above.
func (m *Machine) openEndedHint(s Session, q catalog.OpenEndedQuestion) string {
	if q.ID != "symptom_detail" {
		return q.Hint
	}
	var (
		worst catalog.SymptomDefinition
		best  = -1
	)
	for _, def := range m.catalog.ForChannel(s.Channel) {
		if score, ok := s.Scores[def.ID]; ok && score > best && def.FollowUpPrompt != "" {
			worst, best = def, score
		}
	}
	if best >= 0 && catalog.Level(best) != catalog.LevelNone && catalog.Level(best) != catalog.LevelMild {
		return worst.FollowUpPrompt
	}
	return q.Hint
}

func (m *Machine) onOpenEnded(t *turn, ev Event) {
	qs := m.catalog.OpenEnded(t.s.Channel)
	if t.s.OpenEndedIndex >= len(qs) {
		m.enterClosing(t)
		return
	}
	q := qs[t.s.OpenEndedIndex]

	if ev.Type == EventFreeText {
		if !parser.IsDecline(ev.Text) {
			text := strings.TrimSpace(ev.Text)
			t.s.OpenEndedResponses[q.ID] = text
			m.adviseOrThank(t, text)
		} else {
			t.say("好的。")
		}
		t.s.OpenEndedIndex++
		m.askOpenEnded(t)
		return
	}

	m.retryOr(t, openEndedStep(q.ID), m.apology(t, ev),
		func() { m.askOpenEnded(t) },
		func() {
			t.s.OpenEndedIndex++
			m.askOpenEnded(t)
		})
}

func (m *Machine) adviseOrThank(t *turn, text string) {
	if topic := templates.DetectTopic(text); topic != "" {
		ctx := m.templateContext(t.s)
		ctx.Topic = topic
		q := templates.Query{Category: templates.CategoryLifestyleAdvice, Keywords: []string{text}, Context: ctx}
		if match, ok := m.matcher.Match(t.tpl, q); ok && !templates.HasPlaceholders(match.Text) {
			t.useTemplate(match)
			return
		}
	}
	t.say(openEndedRecorded)
}

// closing

func (m *Machine) enterClosing(t *turn) {
	t.s.State = StateClosing
	m.sayClosing(t)
}

func (m *Machine) sayClosing(t *turn) {
	level := t.s.AlertLevel()
	t.say(m.script.closing(m.catalog, t.s, level))
	if t.s.Channel == catalog.ChannelVoice {
		t.expect = ExpectNone
		return
	}
	severe := level == alert.Red || t.s.HasSevereScore()
	ctx := m.templateContext(t.s)
	ctx.HasSevere = &severe
	if match, ok := m.matcher.Match(t.tpl, templates.Query{Category: templates.CategoryCompletion, Context: ctx}); ok && !templates.HasPlaceholders(match.Text) {
		t.useTemplate(match)
	}
	t.say(closingConfirm)
	t.expect = ExpectConfirm
}

func (m *Machine) onClosing(t *turn, ev Event) {
	switch {
	case ev.Type == EventEnd:
		m.complete(t, ev)
	case ev.Type == EventFreeText && parser.IsConfirm(ev.Text):
		m.complete(t, ev)
	case ev.Type == EventNoInput:
		m.retryOr(t, stepClosing, m.apology(t, ev),
			func() { m.sayClosing(t) },
			func() { m.complete(t, ev) })
	default:
		m.sayClosing(t)
	}
}

func (m *Machine) complete(t *turn, ev Event) {
	t.say(completed(t.s.Channel))
	t.s.State = StateTerminated
	t.s.CompletionType = CompletionCompleted
	t.expect = ExpectNone
	m.stamp(t, ev)
}
