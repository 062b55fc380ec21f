// Package parser turns free-form patient replies (typed text or speech
// transcripts) into scores, descriptions and yes/no answers.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinDescriptionRunes is the shortest leftover text kept as a description.
const MinDescriptionRunes = 3

// Result is the outcome of Parse. A nil Score means the reply carried no usable number.
type Result struct {
	Score       *int
	Description string
}

// HasScore reports whether a score was extracted.
func (r Result) HasScore() bool { return r.Score != nil }

type keywordRule struct {
	score    int
	keywords []string
}

// Order matters: the first matching rule wins, so longer phrases that contain
// shorter ones ("非常嚴重" contains "嚴重") must come first.
var scoreKeywords = []keywordRule{
	{0, []string{"完全沒有", "沒有", "不會", "不痛", "零"}},
	{9, []string{"非常嚴重", "極度", "劇烈", "劇痛"}},
	{8, []string{"很嚴重", "嚴重"}},
	{7, []string{"明顯", "很痛", "很喘", "很累"}},
	{5, []string{"中等", "普通", "還好"}},
	{2, []string{"輕微", "一點點", "有點"}},
}

var (
	digitRun      = regexp.MustCompile(`\d+`)
	scoreWithUnit = regexp.MustCompile(`\d+\s*分?`)
	numeralScore  = regexp.MustCompile(`[零〇一二兩三四五六七八九十]\s*分`)
)

// numerals maps the spoken digits speech recognition writes out in Chinese.
var numerals = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '兩': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9, '十': 10,
}

var fillerWords = map[string]struct{}{
	"是": {}, "的": {}, "了": {}, "吧": {}, "呢": {}, "啊": {}, "分": {},
}

// Parse extracts a 0-10 score and an optional description from text. It never fails.
func Parse(text string) Result {
	normalized := normalize(text)
	if normalized == "" {
		return Result{}
	}

	if score, ok := scoreFromDigits(normalized); ok {
		return scored(score, descriptionAround(normalized))
	}
	if score, loc, ok := scoreFromNumerals(normalized); ok {
		return scored(score, keepDescription(trimEdges(normalized[:loc[0]]+" "+normalized[loc[1]:])))
	}
	if score, ok := scoreFromKeywords(normalized); ok {
		return scored(score, descriptionAround(normalized))
	}
	return Result{Description: trimEdges(normalized)}
}

func scored(score int, description string) Result {
	return Result{Score: &score, Description: description}
}

func scoreFromDigits(text string) (int, bool) {
	for _, run := range digitRun.FindAllString(text, -1) {
		n, err := strconv.Atoi(run)
		if err != nil {
			continue
		}
		if n >= 0 && n <= 10 {
			return n, true
		}
	}
	return 0, false
}

// scoreFromNumerals reads spoken scores such as "八分" and returns the span it
// consumed. "一分鐘" is a duration, and "十分" also means "very" ("十分痛"), so
// it only counts as a score when nothing else was said.
func scoreFromNumerals(text string) (int, []int, bool) {
	for _, loc := range numeralScore.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		if strings.HasPrefix(rest, "鐘") {
			continue
		}
		r, _ := utf8.DecodeRuneInString(text[loc[0]:])
		if r == '十' && trimEdges(text[:loc[0]]+rest) != "" {
			continue
		}
		return numerals[r], loc, true
	}
	return 0, nil, false
}

func scoreFromKeywords(text string) (int, bool) {
	for _, rule := range scoreKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.score, true
			}
		}
	}
	return 0, false
}

func descriptionAround(text string) string {
	return keepDescription(trimEdges(scoreWithUnit.ReplaceAllString(text, "")))
}

func keepDescription(desc string) string {
	if utf8.RuneCountInString(desc) < MinDescriptionRunes {
		return ""
	}
	if _, filler := fillerWords[desc]; filler {
		return ""
	}
	return desc
}

// normalize folds full-width digits and spaces to ASCII and trims whitespace.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= '０' && r <= '９':
			b.WriteRune('0' + (r - '０'))
		case r == '　':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func trimEdges(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
