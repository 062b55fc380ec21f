package parser

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Answer is the outcome of a yes/no question.
type Answer int

const (
	Unclear Answer = iota
	Yes
	No
)

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unclear"
	}
}

// Vocabulary lists the phrases that decide a yes/no answer. Uncertain and
// Affirmative are substring checks made first; Negative and Positive cues are
// then scanned left to right (see ParseYesNo).
type Vocabulary struct {
	// Uncertain phrases force Unclear even when other words match.
	Uncertain []string
	// Affirmative idioms that contain a negation but mean yes ("沒問題").
	Affirmative []string
	Negative    []string
	Positive    []string
}

var uncertainPhrases = []string{"不確定", "不知道", "不清楚", "不太確定", "好像", "可能", "也許", "說不上", "not sure", "maybe", "don't know"}

// ConsentVocabulary decides whether the patient agrees to start now.
var ConsentVocabulary = Vocabulary{
	Uncertain:   uncertainPhrases,
	Affirmative: []string{"沒問題", "沒關係"},
	Negative:    []string{"不方便", "不太", "不好", "不要", "不行", "不可以", "不用", "沒空", "沒時間", "改天", "等一下", "no"},
	Positive:    []string{"可以", "好", "方便", "行", "請說", "開始", "ok", "yes", "sure"},
}

// PresenceVocabulary decides whether a symptom such as fever is present. It
// has no bare "不": "有點紅腫但不嚴重" is a yes.
var PresenceVocabulary = Vocabulary{
	Uncertain: uncertainPhrases,
	Negative:  []string{"沒有", "沒發燒", "沒", "不會", "不是", "無", "正常", "還好", "no", "none"},
	Positive:  []string{"有", "會", "是", "發燒", "紅腫", "流膿", "分泌物", "yes"},
}

var declinePhrases = []string{"沒有", "沒了", "沒事", "不用", "跳過", "略過", "skip", "no", "nothing"}

// maxDeclineRunes keeps longer answers such as "沒有什麼大問題，只是傷口有點癢" from
// being dropped as a decline.
const maxDeclineRunes = 4

// IsDecline reports whether a reply to an optional question means "nothing to add".
func IsDecline(text string) bool {
	t := strings.ToLower(trimEdges(normalize(text)))
	if t == "" {
		return false
	}
	if utf8.RuneCountInString(t) > maxDeclineRunes && !strings.HasPrefix(t, "skip") {
		return false
	}
	return containsAny(t, declinePhrases)
}

var confirmPhrases = []string{"完成", "送出", "確認", "結束", "再見", "謝謝", "好", "ok", "done", "bye"}

// IsConfirm reports whether text closes out the session, e.g. "好，送出" or "謝謝再見".
func IsConfirm(text string) bool {
	t := strings.ToLower(trimEdges(normalize(text)))
	if t == "" || containsAny(t, []string{"不要", "不好", "還沒", "等一下"}) {
		return false
	}
	return containsAny(t, confirmPhrases)
}

// ParseYesNo classifies text against vocab. Empty or conflicting input is
// Unclear.
//
// A negative cue also negates a positive cue written right after it, so
// "沒有發燒" and "不太方便" are plain no. A positive cue anywhere else next to a
// negative one ("有發燒，現在還好", "傷口有紅腫，不會痛") is a conflict.
func ParseYesNo(text string, vocab Vocabulary) Answer {
	t := strings.ToLower(normalize(text))
	if t == "" {
		return Unclear
	}
	if containsAny(t, vocab.Uncertain) {
		return Unclear
	}
	if containsAny(t, vocab.Affirmative) {
		return Yes
	}

	negative := longestFirst(vocab.Negative)
	positive := longestFirst(vocab.Positive)
	var sawNo, sawYes bool
	for i := 0; i < len(t); {
		if n := prefixLen(t[i:], negative); n > 0 {
			sawNo = true
			i += n
			i += prefixLen(t[i:], positive)
			continue
		}
		if n := prefixLen(t[i:], positive); n > 0 {
			sawYes = true
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(t[i:])
		i += size
	}

	switch {
	case sawNo && sawYes:
		return Unclear
	case sawNo:
		return No
	case sawYes:
		return Yes
	default:
		return Unclear
	}
}

// prefixLen returns the byte length of the first phrase that prefixes s.
func prefixLen(s string, phrases []string) int {
	for _, p := range phrases {
		if p != "" && strings.HasPrefix(s, p) {
			return len(p)
		}
	}
	return 0
}

func longestFirst(phrases []string) []string {
	out := append([]string(nil), phrases...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
