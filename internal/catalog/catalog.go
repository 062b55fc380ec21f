// Package catalog holds the ordered, read-only symptom definitions asked in every assessment.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Channel identifies the patient-facing surface a session runs on.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelChat || c == ChannelVoice
}

// MaxScore is the top of the 0-10 self-reported severity scale.
const MaxScore = 10

// ScoreLevel buckets a score for feedback and display.
type ScoreLevel string

const (
	LevelNone     ScoreLevel = "none"
	LevelMild     ScoreLevel = "mild"
	LevelModerate ScoreLevel = "moderate"
	LevelSevere   ScoreLevel = "severe"
)

// Level maps a 0-10 score to its band.
func Level(score int) ScoreLevel {
	switch {
	case score <= 0:
		return LevelNone
	case score <= 3:
		return LevelMild
	case score <= 6:
		return LevelModerate
	default:
		return LevelSevere
	}
}

// SymptomDefinition describes one assessable symptom.
type SymptomDefinition struct {
	ID             string
	DisplayName    string
	Prompt         string
	VoicePrompt    string
	FollowUpPrompt string
	Keywords       []string
	ScoreLabels    [MaxScore + 1]string
	Channels       []Channel
}

// PromptFor returns the channel-specific wording of the question.
func (d SymptomDefinition) PromptFor(ch Channel) string {
	if ch == ChannelVoice && d.VoicePrompt != "" {
		return d.VoicePrompt
	}
	return d.Prompt
}

// Label returns the descriptor for a score, or "" when out of range.
func (d SymptomDefinition) Label(score int) string {
	if score < 0 || score > MaxScore {
		return ""
	}
	return d.ScoreLabels[score]
}

func (d SymptomDefinition) askedOn(ch Channel) bool {
	if len(d.Channels) == 0 {
		return true
	}
	for _, c := range d.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// OpenEndedQuestion is an optional free-text prompt asked after the scored symptoms.
type OpenEndedQuestion struct {
	ID       string
	Prompt   string
	Hint     string
	Channels []Channel
}

// Catalog is the immutable, ordered symptom list.
type Catalog struct {
	symptoms  []SymptomDefinition
	openEnded []OpenEndedQuestion
	byID      map[string]int
}

var ErrInvalidCatalog = errors.New("catalog: invalid definition")

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type fileFormat struct {
	ScoreLabels []string `yaml:"score_labels"`
	Symptoms    []struct {
		ID             string    `yaml:"id"`
		DisplayName    string    `yaml:"display_name"`
		Prompt         string    `yaml:"prompt"`
		VoicePrompt    string    `yaml:"voice_prompt"`
		FollowUpPrompt string    `yaml:"follow_up_prompt"`
		Keywords       []string  `yaml:"keywords"`
		ScoreLabels    []string  `yaml:"score_labels"`
		Channels       []Channel `yaml:"channels"`
	} `yaml:"symptoms"`
	OpenEnded []struct {
		ID       string    `yaml:"id"`
		Prompt   string    `yaml:"prompt"`
		Hint     string    `yaml:"hint"`
		Channels []Channel `yaml:"channels"`
	} `yaml:"open_ended"`
}

// Default returns the built-in catalog. It panics only if the embedded file is broken.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from disk, falling back to Default when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var raw fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(raw.Symptoms))}
	for _, s := range raw.Symptoms {
		id := strings.TrimSpace(s.ID)
		if id == "" || strings.TrimSpace(s.Prompt) == "" {
			return nil, fmt.Errorf("%w: symptom %q needs id and prompt", ErrInvalidCatalog, id)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate symptom %q", ErrInvalidCatalog, id)
		}
		labels := s.ScoreLabels
		if len(labels) == 0 {
			labels = raw.ScoreLabels
		}
		if len(labels) != MaxScore+1 {
			return nil, fmt.Errorf("%w: symptom %q has %d score labels, want %d", ErrInvalidCatalog, id, len(labels), MaxScore+1)
		}
		for _, ch := range s.Channels {
			if !ch.Valid() {
				return nil, fmt.Errorf("%w: symptom %q has unknown channel %q", ErrInvalidCatalog, id, ch)
			}
		}
		def := SymptomDefinition{
			ID:             id,
			DisplayName:    s.DisplayName,
			Prompt:         s.Prompt,
			VoicePrompt:    s.VoicePrompt,
			FollowUpPrompt: s.FollowUpPrompt,
			Keywords:       append([]string(nil), s.Keywords...),
			Channels:       append([]Channel(nil), s.Channels...),
		}
		if def.DisplayName == "" {
			def.DisplayName = id
		}
		copy(def.ScoreLabels[:], labels)
		c.byID[id] = len(c.symptoms)
		c.symptoms = append(c.symptoms, def)
	}

	for _, q := range raw.OpenEnded {
		if strings.TrimSpace(q.ID) == "" || strings.TrimSpace(q.Prompt) == "" {
			return nil, fmt.Errorf("%w: open-ended question needs id and prompt", ErrInvalidCatalog)
		}
		c.openEnded = append(c.openEnded, OpenEndedQuestion{
			ID:       q.ID,
			Prompt:   q.Prompt,
			Hint:     q.Hint,
			Channels: append([]Channel(nil), q.Channels...),
		})
	}

	for _, ch := range []Channel{ChannelChat, ChannelVoice} {
		if len(c.ForChannel(ch)) == 0 {
			return nil, fmt.Errorf("%w: no symptoms for channel %s", ErrInvalidCatalog, ch)
		}
	}
	return c, nil
}

// ForChannel returns the symptoms asked on ch, in order. The slice is a copy.
func (c *Catalog) ForChannel(ch Channel) []SymptomDefinition {
	out := make([]SymptomDefinition, 0, len(c.symptoms))
	for _, s := range c.symptoms {
		if s.askedOn(ch) {
			out = append(out, s)
		}
	}
	return out
}

// Get looks a symptom up by id.
func (c *Catalog) Get(id string) (SymptomDefinition, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return SymptomDefinition{}, false
	}
	return c.symptoms[idx], true
}

// Label returns the score descriptor for a symptom, or "" if unknown.
func (c *Catalog) Label(id string, score int) string {
	def, ok := c.Get(id)
	if !ok {
		return ""
	}
	return def.Label(score)
}

// DisplayName returns the human name of a symptom, or the id itself.
func (c *Catalog) DisplayName(id string) string {
	if def, ok := c.Get(id); ok {
		return def.DisplayName
	}
	return id
}

// OpenEnded returns the optional free-text questions for ch, in order.
func (c *Catalog) OpenEnded(ch Channel) []OpenEndedQuestion {
	var out []OpenEndedQuestion
	for _, q := range c.openEnded {
		if len(q.Channels) == 0 {
			out = append(out, q)
			continue
		}
		for _, qc := range q.Channels {
			if qc == ch {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

// Size is the number of symptoms asked on ch.
func (c *Catalog) Size(ch Channel) int {
	return len(c.ForChannel(ch))
}
