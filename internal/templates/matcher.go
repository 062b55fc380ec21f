package templates

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// Weights added per matching criterion.
const (
	symptomTypeWeight = 2.0
	scoreRangeWeight  = 1.5
	keywordWeight     = 0.5
	contextWeight     = 0.5
)

// Chooser picks an index in [0, n). It is injected so tests can pin variations.
type Chooser func(n int) int

// RandomChooser picks uniformly at random.
func RandomChooser(n int) int { return rand.IntN(n) }

// FirstChoice always returns the main template text.
func FirstChoice(int) int { return 0 }

// Query describes the reply being looked for.
type Query struct {
	Category    Category
	SymptomType string
	Score       *int
	Keywords    []string
	Context     Context
}

// Match is a selected template and its rendered text.
type Match struct {
	Template Template
	Text     string
	Score    float64
}

// Matcher ranks templates against a query.
type Matcher struct {
	choose Chooser
}

// NewMatcher returns a matcher; a nil chooser means RandomChooser.
func NewMatcher(choose Chooser) *Matcher {
	if choose == nil {
		choose = RandomChooser
	}
	return &Matcher{choose: choose}
}

// Match returns the best usable template for q, or false when none scores above zero.
// Ties keep the first candidate in slice order.
func (m *Matcher) Match(candidates []Template, q Query) (Match, bool) {
	var (
		best      Template
		bestScore float64
		found     bool
	)
	for _, t := range candidates {
		s := Score(t, q)
		if s <= 0 {
			continue
		}
		if !found || s > bestScore {
			best, bestScore, found = t, s, true
		}
	}
	if !found {
		return Match{}, false
	}

	texts := best.Texts()
	idx := 0
	if len(texts) > 1 {
		idx = m.choose(len(texts))
		if idx < 0 || idx >= len(texts) {
			idx = 0
		}
	}
	return Match{
		Template: best,
		Text:     Render(texts[idx], q.Context),
		Score:    bestScore,
	}, true
}

// Score computes how well t fits q. Zero means excluded.
func Score(t Template, q Query) float64 {
	if !t.Usable() || t.Category != q.Category {
		return 0
	}
	c := t.Conditions
	var total float64

	if q.SymptomType != "" && c.SymptomType != "" {
		if c.SymptomType != q.SymptomType {
			return 0
		}
		total += symptomTypeWeight
	}
	if q.Score != nil && c.ScoreRange != nil {
		if !c.ScoreRange.Contains(*q.Score) {
			return 0
		}
		total += scoreRangeWeight
	}

	for _, tkw := range t.TriggerKeywords {
		if tkw == "" {
			continue
		}
		for _, kw := range q.Keywords {
			if strings.Contains(kw, tkw) {
				total += keywordWeight
				break
			}
		}
	}

	ctx := q.Context
	if c.TimeOfDay != "" && ctx.TimeOfDay == c.TimeOfDay {
		total += contextWeight
	}
	if c.Topic != "" && ctx.Topic == c.Topic {
		total += contextWeight
	}
	if c.HasSevere != nil && ctx.HasSevere != nil && *c.HasSevere == *ctx.HasSevere {
		total += contextWeight
	}
	return total
}

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render substitutes {name} placeholders from ctx. Unknown placeholders stay verbatim.
func Render(text string, ctx Context) string {
	vars := ctx.Vars()
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// HasPlaceholders reports whether text still contains an unresolved {name}.
func HasPlaceholders(text string) bool {
	return placeholder.MatchString(text)
}
