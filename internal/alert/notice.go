package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Notice is sent to the care team the first time a session turns red.
type Notice struct {
	SessionID   string         `json:"session_id"`
	PatientID   string         `json:"patient_id"`
	PatientName string         `json:"patient_name,omitempty"`
	Channel     string         `json:"channel"`
	Level       Level          `json:"level"`
	Reasons     []string       `json:"reasons"`
	Scores      map[string]int `json:"scores"`
	RaisedAt    time.Time      `json:"raised_at"`
}

// Notifier delivers notices. Implementations must be safe for concurrent use.
type Notifier interface {
	NotifyRed(ctx context.Context, n Notice) error
}

// Subject is the one-line summary used for email subjects and pages.
func (n Notice) Subject() string {
	who := n.PatientID
	if n.PatientName != "" {
		who = fmt.Sprintf("%s (%s)", n.PatientName, n.PatientID)
	}
	return fmt.Sprintf("[%s] 症狀回報警示：%s", strings.ToUpper(string(n.Level)), who)
}

// Body renders a plain text summary with scores sorted by symptom id.
func (n Notice) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "病人：%s\n", n.PatientID)
	if n.PatientName != "" {
		fmt.Fprintf(&b, "姓名：%s\n", n.PatientName)
	}
	fmt.Fprintf(&b, "通道：%s\n", n.Channel)
	fmt.Fprintf(&b, "等級：%s\n", n.Level.Label())
	fmt.Fprintf(&b, "時間：%s\n", n.RaisedAt.Format(time.RFC3339))
	if len(n.Reasons) > 0 {
		b.WriteString("原因：\n")
		for _, r := range n.Reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(n.Scores) > 0 {
		ids := make([]string, 0, len(n.Scores))
		for id := range n.Scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("分數：\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %d\n", id, n.Scores[id])
		}
	}
	fmt.Fprintf(&b, "Session：%s\n", n.SessionID)
	return b.String()
}
