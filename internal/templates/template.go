// Package templates selects clinician-approved reply content for the dialogue.
package templates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Category is the closed set of template kinds.
type Category string

const (
	CategorySymptomResponse  Category = "symptom_response"
	CategoryEmotionalSupport Category = "emotional_support"
	CategoryLifestyleAdvice  Category = "lifestyle_advice"
	CategoryCompletion       Category = "completion"
	CategoryGreeting         Category = "greeting"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategorySymptomResponse,
	CategoryEmotionalSupport,
	CategoryLifestyleAdvice,
	CategoryCompletion,
	CategoryGreeting,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// TimeOfDay buckets the local hour for greetings.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// TimeOfDayAt maps a wall-clock time to its bucket.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 18:
		return Afternoon
	default:
		return Evening
	}
}

// Topic is a lifestyle-advice subject detected in free text.
type Topic string

const (
	TopicActivity  Topic = "activity"
	TopicWoundCare Topic = "wound_care"
)

var topicKeywords = []struct {
	topic    Topic
	keywords []string
}{
	{TopicWoundCare, []string{"傷口", "洗澡", "換藥", "紗布"}},
	{TopicActivity, []string{"運動", "活動", "走路", "散步", "爬樓梯"}},
}

// DetectTopic returns the first lifestyle topic mentioned in text, or "".
func DetectTopic(text string) Topic {
	for _, tk := range topicKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(text, kw) {
				return tk.topic
			}
		}
	}
	return ""
}

// Context carries the typed values a template may condition on or substitute.
// Zero values (empty string, nil pointer) mean "not provided".
type Context struct {
	PatientName string
	PostOpDay   *int
	Score       *int
	SymptomName string
	ScoreLabel  string
	TimeOfDay   TimeOfDay
	Topic       Topic
	HasSevere   *bool
}

// Vars returns the placeholder values available for substitution.
func (c Context) Vars() map[string]string {
	vars := make(map[string]string, 6)
	if c.PatientName != "" {
		vars["patient_name"] = c.PatientName
	}
	if c.PostOpDay != nil {
		vars["post_op_day"] = strconv.Itoa(*c.PostOpDay)
	}
	if c.Score != nil {
		vars["score"] = strconv.Itoa(*c.Score)
	}
	if c.SymptomName != "" {
		vars["symptom_name"] = c.SymptomName
	}
	if c.ScoreLabel != "" {
		vars["score_label"] = c.ScoreLabel
	}
	return vars
}

// ScoreRange is an inclusive [Min, Max] score window.
type ScoreRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether score lies in the range, inclusive.
func (r ScoreRange) Contains(score int) bool {
	return score >= r.Min && score <= r.Max
}

// UnmarshalYAML accepts the compact [min, max] form.
func (r *ScoreRange) UnmarshalYAML(node *yaml.Node) error {
	var pair []int
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("score_range needs [min, max], got %d values", len(pair))
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// Conditions are the trigger conditions a template declares. SymptomType and
// ScoreRange are exclusive filters; the rest add to the match score when equal.
type Conditions struct {
	SymptomType string      `json:"symptom_type,omitempty" yaml:"symptom_type"`
	ScoreRange  *ScoreRange `json:"score_range,omitempty" yaml:"score_range"`
	TimeOfDay   TimeOfDay   `json:"time_of_day,omitempty" yaml:"time_of_day"`
	Topic       Topic       `json:"topic,omitempty" yaml:"topic"`
	HasSevere   *bool       `json:"has_severe,omitempty" yaml:"has_severe"`
}

// Template is one clinician-authored response.
type Template struct {
	ID              string     `json:"template_id" yaml:"id"`
	Category        Category   `json:"category" yaml:"category"`
	ScenarioName    string     `json:"scenario_name" yaml:"scenario"`
	Conditions      Conditions `json:"trigger_conditions" yaml:"conditions"`
	TriggerKeywords []string   `json:"trigger_keywords" yaml:"keywords"`
	Response        string     `json:"response_template" yaml:"response"`
	Variations      []string   `json:"response_variations" yaml:"variations"`
	FollowUpActions []string   `json:"follow_up_actions" yaml:"follow_up_actions"`
	AuthorName      string     `json:"author_name" yaml:"author_name"`
	AuthorRole      string     `json:"author_role" yaml:"author_role"`
	ReviewedBy      string     `json:"reviewed_by,omitempty" yaml:"reviewed_by"`
	Version         int        `json:"version" yaml:"version"`
	Active          bool       `json:"is_active" yaml:"active"`
	Approved        bool       `json:"is_approved" yaml:"approved"`
	UseCount        int        `json:"use_count" yaml:"-"`
	LastUsed        *time.Time `json:"last_used,omitempty" yaml:"-"`
	CreatedAt       time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"-"`
}

// Usable reports whether the engine may show this template to patients.
func (t Template) Usable() bool { return t.Active && t.Approved }

// Texts returns the main response followed by its variations.
func (t Template) Texts() []string {
	out := make([]string, 0, 1+len(t.Variations))
	out = append(out, t.Response)
	for _, v := range t.Variations {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

var ErrInvalidTemplate = errors.New("templates: invalid template")

// Validate checks the fields the authoring collaborator must supply.
func Validate(t Template) error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidTemplate)
	case !t.Category.Valid():
		return fmt.Errorf("%w: %s has unknown category %q", ErrInvalidTemplate, t.ID, t.Category)
	case strings.TrimSpace(t.Response) == "":
		return fmt.Errorf("%w: %s has empty response", ErrInvalidTemplate, t.ID)
	}
	if r := t.Conditions.ScoreRange; r != nil {
		if r.Min < 0 || r.Max > 10 || r.Min > r.Max {
			return fmt.Errorf("%w: %s has score range [%d,%d]", ErrInvalidTemplate, t.ID, r.Min, r.Max)
		}
	}
	if tod := t.Conditions.TimeOfDay; tod != "" && tod != Morning && tod != Afternoon && tod != Evening {
		return fmt.Errorf("%w: %s has time_of_day %q", ErrInvalidTemplate, t.ID, tod)
	}
	return nil
}
