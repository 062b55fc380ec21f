package notify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/symptom-assessment-engine/internal/alert"
	"github.com/wolfman30/symptom-assessment-engine/pkg/logging"
)

type mockEmailSender struct {
	sent   []EmailMessage
	failTo string
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	m.sent = append(m.sent, msg)
	if msg.To == m.failTo {
		return errors.New("mailbox full")
	}
	return nil
}

func redNotice() alert.Notice {
	return alert.Notice{
		SessionID: "sess-1",
		PatientID: "P001",
		Channel:   "voice",
		Level:     alert.Red,
		Reasons:   []string{"疼痛 8 分（≥7）", "<script>"},
		Scores:    map[string]int{"pain": 8},
		RaisedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestCareTeamNotifierSendsToEveryRecipient(t *testing.T) {
	sender := &mockEmailSender{failTo: "b@example.com"}
	n := NewCareTeamNotifier(sender, []string{"a@example.com", " ", "b@example.com", "c@example.com"}, nil)

	err := n.NotifyRed(context.Background(), redNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b@example.com")
	require.Len(t, sender.sent, 3)
	assert.Equal(t, "c@example.com", sender.sent[2].To)
	assert.Equal(t, "[RED] 症狀回報警示：P001", sender.sent[0].Subject)
	assert.Equal(t, CategoryRedAlert, sender.sent[0].Category)
	assert.Equal(t, "sess-1", sender.sent[0].SessionID)
	assert.Contains(t, sender.sent[0].HTML, "&lt;script&gt;")
	assert.NotContains(t, sender.sent[0].HTML, "<script>")
}

func TestCareTeamNotifierWithoutRecipients(t *testing.T) {
	sender := &mockEmailSender{}
	n := NewCareTeamNotifier(sender, nil, nil)
	require.NoError(t, n.NotifyRed(context.Background(), redNotice()))
	assert.Empty(t, sender.sent)

	var nilNotifier *CareTeamNotifier
	assert.NoError(t, nilNotifier.NotifyRed(context.Background(), redNotice()))
}

func TestNewSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "x@example.com"}, nil))

	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "x@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.from.Name)
}

type fakeSendGrid struct {
	status int
	got    *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSenderStatus(t *testing.T) {
	client := &fakeSendGrid{status: http.StatusAccepted}
	s := &SendGridSender{client: client, from: mail.NewEmail("n", "x@example.com"), logger: logging.Default()}

	msg := EmailMessage{To: "a@example.com", Subject: "hi", Body: "body", Category: CategoryRedAlert, SessionID: "sess-1"}
	require.NoError(t, s.Send(context.Background(), msg))
	require.NotNil(t, client.got)
	assert.Equal(t, "hi", client.got.Subject)
	assert.Equal(t, []string{CategoryRedAlert}, client.got.Categories)
	assert.Equal(t, "sess-1", client.got.CustomArgs["session_id"])

	client.status = http.StatusBadRequest
	assert.Error(t, s.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "hi", Body: "body"}))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSenderBuildsMessage(t *testing.T) {
	client := &fakeSES{}
	s := newSESSender(client, SESConfig{FromEmail: "alerts@example.com"}, nil)

	require.NoError(t, s.Send(context.Background(), EmailMessage{To: "nurse@example.com", Subject: "警示", Body: "text", HTML: "<p>x</p>", SessionID: "sess-1"}))
	require.NotNil(t, client.input)
	assert.Equal(t, "Symptom Assessment <alerts@example.com>", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"nurse@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "text", aws.ToString(client.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>x</p>", aws.ToString(client.input.Content.Simple.Body.Html.Data))
	require.Len(t, client.input.EmailTags, 1)
	assert.Equal(t, "session_id", aws.ToString(client.input.EmailTags[0].Name))
	assert.Equal(t, "sess-1", aws.ToString(client.input.EmailTags[0].Value))
}

func TestStubEmailSender(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@example.com"}))
}
