package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

const defaultFromName = "Symptom Assessment"

// CategoryRedAlert tags care-team alert mail in provider dashboards.
const CategoryRedAlert = "red_alert"

// EmailSender sends one email. SendGrid, SES and the stub are interchangeable.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outgoing email. Category and SessionID are passed to the
// provider as metadata so a delivered alert can be traced back to its dialogue.
type EmailMessage struct {
	To        string
	Subject   string
	Body      string
	HTML      string
	Category  string
	SessionID string
}

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridAPI
	from   *mail.Email
	logger *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(fromName(cfg.FromName), cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = msg.Body
	}
	m := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", msg.To), msg.Body, htmlBody)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	if msg.SessionID != "" {
		m.CustomArgs = map[string]string{"session_id": msg.SessionID}
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected message", "status", resp.StatusCode, "body", resp.Body, "session_id", msg.SessionID)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("care team email sent", "provider", "sendgrid", "to", msg.To, "session_id", msg.SessionID)
	return nil
}

// StubEmailSender logs instead of sending; used for local runs and the CLI.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("email suppressed", "provider", "stub", "to", msg.To, "subject", msg.Subject, "session_id", msg.SessionID)
	return nil
}

func fromName(name string) string {
	if name == "" {
		return defaultFromName
	}
	return name
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
