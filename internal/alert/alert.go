// Package alert derives the green/yellow/red follow-up signal from collected
// scores and safety flags. Levels are always recomputed, never stored on their own.
package alert

import "fmt"

// Level is the care-team urgency of an assessment.
type Level string

const (
	Green  Level = "green"
	Yellow Level = "yellow"
	Red    Level = "red"
)

// Symptom ids the rules read. Missing scores count as 0.
const (
	SymptomPain    = "pain"
	SymptomDyspnea = "dyspnea"
	SymptomOverall = "overall"
)

// Thresholds for each rule, inclusive.
const (
	RedPainAt       = 7
	RedDyspneaAt    = 6
	YellowPainAt    = 4
	YellowDyspneaAt = 4
	YellowOverallAt = 5
)

// SafetyFlags are the red-tier conditions asked independently of scores.
type SafetyFlags struct {
	Fever      bool `json:"fever"`
	WoundIssue bool `json:"wound_issue"`
}

// Any reports whether any safety flag is raised.
func (f SafetyFlags) Any() bool { return f.Fever || f.WoundIssue }

// Evaluate applies the rules in order; the first match wins.
func Evaluate(scores map[string]int, flags SafetyFlags) Level {
	pain := scores[SymptomPain]
	dyspnea := scores[SymptomDyspnea]

	if flags.Any() || pain >= RedPainAt || dyspnea >= RedDyspneaAt {
		return Red
	}
	if pain >= YellowPainAt || dyspnea >= YellowDyspneaAt || scores[SymptomOverall] >= YellowOverallAt {
		return Yellow
	}
	return Green
}

// Reasons lists every rule that fired, most severe first, for the care-team report.
func Reasons(scores map[string]int, flags SafetyFlags) []string {
	var out []string
	if flags.Fever {
		out = append(out, "發燒")
	}
	if flags.WoundIssue {
		out = append(out, "傷口異常")
	}
	pain := scores[SymptomPain]
	dyspnea := scores[SymptomDyspnea]
	switch {
	case pain >= RedPainAt:
		out = append(out, fmt.Sprintf("疼痛 %d 分（≥%d）", pain, RedPainAt))
	case pain >= YellowPainAt:
		out = append(out, fmt.Sprintf("疼痛 %d 分（≥%d）", pain, YellowPainAt))
	}
	switch {
	case dyspnea >= RedDyspneaAt:
		out = append(out, fmt.Sprintf("呼吸困難 %d 分（≥%d）", dyspnea, RedDyspneaAt))
	case dyspnea >= YellowDyspneaAt:
		out = append(out, fmt.Sprintf("呼吸困難 %d 分（≥%d）", dyspnea, YellowDyspneaAt))
	}
	if overall := scores[SymptomOverall]; overall >= YellowOverallAt {
		out = append(out, fmt.Sprintf("整體不適 %d 分（≥%d）", overall, YellowOverallAt))
	}
	return out
}

// Label is the short display form shown to staff.
func (l Level) Label() string {
	switch l {
	case Red:
		return "🔴 需立即關注"
	case Yellow:
		return "🟡 需要追蹤"
	default:
		return "🟢 狀況良好"
	}
}

// FollowUpAction is what the patient is told will happen next.
func FollowUpAction(l Level) string {
	switch l {
	case Red:
		return "我們的個管師會在 30 分鐘內聯繫您，請保持電話暢通"
	case Yellow:
		return "個管師會在今天內與您聯繫追蹤"
	default:
		return "您的狀況良好，繼續保持！有任何不適隨時回報"
	}
}

// Severity orders levels so callers can detect escalation.
func (l Level) Severity() int {
	switch l {
	case Red:
		return 2
	case Yellow:
		return 1
	default:
		return 0
	}
}
