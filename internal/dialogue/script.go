package dialogue

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
)

// Script holds the fixed wording around clinician-approved templates.
type Script struct {
	ClinicName    string
	AssistantName string
}

// DefaultScript is the reference deployment's wording.
func DefaultScript() Script {
	return Script{ClinicName: "三軍總醫院", AssistantName: "小安"}
}

const (
	defaultPatientName  = "先生/小姐"
	maxDescriptionEcho  = 50
	scaleExplanation    = "請選擇 0-10 分：0 分完全沒有，1-3 分輕微，4-6 分中等，7-10 分嚴重。\n💡 您也可以用文字描述症狀的感覺！"
	voiceScaleReminder  = "請用 0 到 10 分回答。"
	openEndedRecorded   = "謝謝您的分享，我們已經記錄下來，會轉達給醫療團隊。"
	skipAcknowledgement = "好的，我們先跳過這個問題。"
)

func patientName(s Session) string {
	if s.PatientName != "" {
		return s.PatientName
	}
	return defaultPatientName
}

func (sc Script) greeting(s Session, symptomCount int) string {
	name := patientName(s)
	if s.Channel == catalog.ChannelVoice {
		day := "想關心一下您今天的狀況。"
		if s.PostOpDay != nil {
			day = fmt.Sprintf("今天是您手術後第%d天，想關心一下您的狀況。", *s.PostOpDay)
		}
		return fmt.Sprintf("您好，%s，我是%s的健康小助手%s。%s", name, sc.ClinicName, sc.AssistantName, day)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s您好！我是%s的 AI 照護助手%s 🤖\n\n", name, sc.ClinicName, sc.AssistantName)
	if s.PostOpDay != nil {
		fmt.Fprintf(&b, "今天是術後第 **%d 天**，", *s.PostOpDay)
	}
	fmt.Fprintf(&b, "讓我們一起完成今日的症狀回報吧！\n\n整個過程大約 2-3 分鐘，我會依序詢問您 %d 個症狀的狀況。", symptomCount)
	return b.String()
}

func consentQuestion(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "現在方便聊幾分鐘嗎？請說「可以」或「不方便」。"
	}
	return "準備好了嗎？請回覆「好」開始，或「改天」稍後再填。"
}

func consentAccepted(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "太好了！首先想請問您，"
	}
	return "太好了！我們開始吧。"
}

func consentDeclined(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "好的，那我們改天再打給您。祝您早日康復，再見！"
	}
	return "好的，那我們改天再聊。祝您早日康復！"
}

func consentExhausted(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "不好意思，好像聽不太清楚，我們改天再打給您。祝您早日康復，再見！"
	}
	return "看起來您現在不方便，我們改天再聊。祝您早日康復！"
}

func noInputApology(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "抱歉，我沒有聽清楚。"
	}
	return "您還在嗎？"
}

const unclearApology = "抱歉，我不太確定您的意思。"

func symptomPrompt(def catalog.SymptomDefinition, ch catalog.Channel, index, total int) string {
	prompt := def.PromptFor(ch)
	if ch == catalog.ChannelVoice {
		if !strings.Contains(prompt, "分") {
			prompt += voiceScaleReminder
		}
		return prompt
	}
	return fmt.Sprintf("**%s評估**（%d/%d）\n\n%s\n\n%s", def.DisplayName, index+1, total, prompt, scaleExplanation)
}

func clarifyScore(def catalog.SymptomDefinition, ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return fmt.Sprintf("謝謝您的說明。如果用 0 到 10 分來說，%s大約是幾分呢？", def.DisplayName)
	}
	return fmt.Sprintf("謝謝您的描述！請問以 0-10 分來說，您今天的%s大約是幾分呢？", def.DisplayName)
}

// generatedAcknowledgement is used when no symptom_response template matches.
func generatedAcknowledgement(def catalog.SymptomDefinition, score int, description string, ch catalog.Channel) string {
	var feedback string
	switch catalog.Level(score) {
	case catalog.LevelNone, catalog.LevelMild:
		feedback = "很好，這個症狀控制得不錯！👍"
	case catalog.LevelModerate:
		feedback = "了解，這是中等程度的症狀，我們會持續關注。"
	default:
		feedback = "⚠️ 這個症狀比較明顯，個管師會特別關注您的狀況。"
	}
	if ch == catalog.ChannelVoice {
		return fmt.Sprintf("收到，%s %d 分。%s", def.DisplayName, score, feedback)
	}
	text := fmt.Sprintf("收到！%s：**%d 分**（%s）\n\n%s", def.DisplayName, score, def.Label(score), feedback)
	if description != "" {
		text += fmt.Sprintf("\n\n（已記錄您的描述：「%s」）", truncateRunes(description, maxDescriptionEcho))
	}
	return text
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func safetyIntro(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "最後想確認一下，"
	}
	return "接下來想確認兩個安全問題。"
}

func safetyQuestion(flag string, ch catalog.Channel) string {
	q := "請問您今天有沒有發燒？"
	if flag == FlagWoundIssue {
		q = "傷口有沒有紅腫、流膿或異常分泌物？"
	}
	if ch == catalog.ChannelVoice {
		return q + "請說「有」或「沒有」。"
	}
	return q + "請回覆「有」或「沒有」。"
}

func safetyRecorded(flag string, answer SafetyAnswer) string {
	switch {
	case answer == SafetyYes && flag == FlagFever:
		return "了解，已記錄您有發燒的情況。"
	case answer == SafetyYes:
		return "了解，已記錄傷口的異常狀況。"
	case answer == SafetyNoResponse:
		return "好的，這一題我們請個管師之後再跟您確認。"
	}
	return "好的。"
}

func flagDisplayName(flag string) string {
	if flag == FlagFever {
		return "發燒"
	}
	return "傷口異常"
}

func safetyReviewReason(flag string) string {
	return flagDisplayName(flag) + "問題未回答"
}

func openEndedIntro(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "好的。"
	}
	return "🎉 太棒了！您已完成所有症狀評分！\n\n接下來想多了解一下您今天的狀況（選填，沒有的話回覆「沒有」即可）。"
}

func openEndedPrompt(q catalog.OpenEndedQuestion, hint string, ch catalog.Channel) string {
	if ch == catalog.ChannelVoice || hint == "" {
		return q.Prompt
	}
	return fmt.Sprintf("**%s**\n%s", q.Prompt, hint)
}

func scoreSummary(cat *catalog.Catalog, s Session) []string {
	var lines []string
	for _, def := range cat.ForChannel(s.Channel) {
		score, ok := s.Scores[def.ID]
		switch {
		case ok && s.Channel == catalog.ChannelVoice:
			lines = append(lines, def.DisplayName+" "+strconv.Itoa(score)+" 分")
		case ok:
			lines = append(lines, fmt.Sprintf("- %s：%d 分（%s）", def.DisplayName, score, def.Label(score)))
		case s.Channel != catalog.ChannelVoice:
			lines = append(lines, fmt.Sprintf("- %s：未回答", def.DisplayName))
		}
	}
	return lines
}

func (sc Script) closing(cat *catalog.Catalog, s Session, level alert.Level) string {
	lines := scoreSummary(cat, s)
	if s.Channel == catalog.ChannelVoice {
		summary := "今天沒有記錄到分數"
		if len(lines) > 0 {
			summary = strings.Join(lines, "、")
		}
		return fmt.Sprintf("好的，謝謝%s今天的回報。我幫您整理一下：%s。這些資訊我會回報給醫療團隊，%s。祝您早日康復，再見！",
			patientName(s), summary, alert.FollowUpAction(level))
	}
	return fmt.Sprintf("📋 **今日回報摘要**\n%s\n\n%s\n%s", strings.Join(lines, "\n"), level.Label(), alert.FollowUpAction(level))
}

const closingConfirm = "請按「完成」送出回報。"

func completed(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "謝謝您，再見！"
	}
	return "✅ 回報已送出！感謝您今天的配合，祝您早日康復！"
}

func abandoned(ch catalog.Channel) string {
	if ch == catalog.ChannelVoice {
		return "好的，那我們下次再聊，再見！"
	}
	return "好的，本次回報已中止，您可以隨時重新開始。"
}
