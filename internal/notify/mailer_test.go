package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMailer captures sends for assertions.
type recordingMailer struct {
	to      []string
	subject string
	body    string
	err     error
	calls   int
}

func (m *recordingMailer) Send(_ context.Context, to []string, subject, body string) error {
	m.calls++
	m.to = to
	m.subject = subject
	m.body = body

	return m.err
}

func TestConfigured(t *testing.T) {
	assert.False(t, (&Config{}).Configured())
	assert.False(t, (&Config{Host: "smtp.example.org"}).Configured())
	assert.True(t, (&Config{Host: "smtp.example.org", From: "gsa@example.org"}).Configured())
}

func TestSendSkipsWithoutConfiguration(t *testing.T) {
	mailer := NewMailer(&Config{}, slog.New(slog.DiscardHandler))

	// must not attempt a connection
	assert.NoError(t, mailer.Send(context.Background(), []string{"a@b.org"}, "subject", "body"))
}

func TestSendSkipsWithoutRecipients(t *testing.T) {
	mailer := NewMailer(&Config{Host: "smtp.example.org", From: "gsa@example.org"}, slog.New(slog.DiscardHandler))

	assert.NoError(t, mailer.Send(context.Background(), nil, "subject", "body"))
}

func TestBuildMessage(t *testing.T) {
	message := string(buildMessage("gsa@example.org", []string{"a@b.org", "c@d.org"}, "Analysis complete", "Your result is ready."))

	assert.Contains(t, message, "From: gsa@example.org\r\n")
	assert.Contains(t, message, "To: a@b.org, c@d.org\r\n")
	assert.Contains(t, message, "Subject: Analysis complete\r\n")
	assert.Contains(t, message, "\r\n\r\nYour result is ready.")
}

func TestAlerterJobFailed(t *testing.T) {
	mailer := &recordingMailer{}
	alerter := NewAlerter(mailer, "ops@example.org", slog.New(slog.DiscardHandler))

	alerter.JobFailed(context.Background(), "Analysis00000001", "analysis", "worker timeout")

	require.Equal(t, 1, mailer.calls)
	assert.Equal(t, []string{"ops@example.org"}, mailer.to)
	assert.Contains(t, mailer.subject, "Analysis00000001")
	assert.Contains(t, mailer.body, "worker timeout")
}

func TestAlerterDisabledWithoutAddress(t *testing.T) {
	mailer := &recordingMailer{}
	alerter := NewAlerter(mailer, "", slog.New(slog.DiscardHandler))

	alerter.JobFailed(context.Background(), "Analysis00000001", "analysis", "worker timeout")

	assert.Zero(t, mailer.calls)
}

func TestAlerterSwallowsMailerErrors(t *testing.T) {
	mailer := &recordingMailer{err: ErrSendFailed}
	alerter := NewAlerter(mailer, "ops@example.org", slog.New(slog.DiscardHandler))

	// must not panic or propagate
	alerter.JobFailed(context.Background(), "Load00000001", "dataset", "fetch failed")
	assert.Equal(t, 1, mailer.calls)
}
