// Package notify delivers red alerts to the care team by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

// CareTeamNotifier emails every configured recipient when a session turns red.
type CareTeamNotifier struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

func NewCareTeamNotifier(email EmailSender, recipients []string, logger *logging.Logger) *CareTeamNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	var cleaned []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &CareTeamNotifier{email: email, recipients: cleaned, logger: logger}
}

// NotifyRed sends one email per recipient. Every recipient is attempted; the
// joined error reports the ones that failed.
func (n *CareTeamNotifier) NotifyRed(ctx context.Context, notice alert.Notice) error {
	if n == nil || n.email == nil {
		return nil
	}
	if len(n.recipients) == 0 {
		n.logger.Warn("red alert raised but no care team recipients configured", "session_id", notice.SessionID)
		return nil
	}
	msg := EmailMessage{
		Subject:   notice.Subject(),
		Body:      notice.Body(),
		HTML:      formatNoticeHTML(notice),
		Category:  CategoryRedAlert,
		SessionID: notice.SessionID,
	}
	var errs []error
	for _, to := range n.recipients {
		msg.To = to
		if err := n.email.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: red alert to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func formatNoticeHTML(notice alert.Notice) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(notice.Subject()))
	b.WriteString("</h2><pre>")
	b.WriteString(html.EscapeString(notice.Body()))
	b.WriteString("</pre>")
	return b.String()
}

var _ alert.Notifier = (*CareTeamNotifier)(nil)
