// Package notify delivers e-mail notifications: result links to users and
// failure alerts to operators.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/gsakit-io/gsakit/internal/config"
)

// ErrSendFailed indicates an SMTP delivery failure.
var ErrSendFailed = errors.New("mail delivery failed")

// Mailer sends notification mails.
type Mailer interface {
	// Send delivers a plain-text mail. A mailer without SMTP configuration
	// skips the send silently; notification is best effort.
	Send(ctx context.Context, to []string, subject, body string) error
}

// Config holds the SMTP settings.
//
// Supports two connection modes depending on TLS:
//   - true:  implicit TLS (SMTPS, typically port 465)
//   - false: plaintext or STARTTLS (typically port 587) via smtp.SendMail
type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	TLS          bool
	ErrorAddress string
}

// LoadConfig reads the SMTP configuration from the environment: SMTP_HOST,
// SMTP_PORT, SMTP_USER, SMTP_PASSWORD, SMTP_FROM, SMTP_TLS,
// MAIL_ERROR_ADDRESS.
func LoadConfig() *Config {
	return &Config{
		Host:         config.GetEnvStr("SMTP_HOST", ""),
		Port:         config.GetEnvInt("SMTP_PORT", 587),
		Username:     config.GetEnvStr("SMTP_USER", ""),
		Password:     config.GetEnvSecret("SMTP_PASSWORD", "SMTP_PASSWORD_FILE"),
		From:         config.GetEnvStr("SMTP_FROM", ""),
		TLS:          config.GetEnvBool("SMTP_TLS", false),
		ErrorAddress: config.GetEnvStr("MAIL_ERROR_ADDRESS", ""),
	}
}

// Configured reports whether the mailer has enough settings to deliver mail.
func (c *Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

// SMTPMailer implements Mailer over net/smtp.
type SMTPMailer struct {
	cfg    *Config
	logger *slog.Logger
}

// NewMailer creates an SMTP mailer.
func NewMailer(cfg *Config, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}

	return &SMTPMailer{cfg: cfg, logger: logger.With("component", "mailer")}
}

// Send delivers a plain-text mail to all recipients. An unconfigured mailer
// skips the send silently.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}

	if !m.cfg.Configured() {
		m.logger.DebugContext(ctx, "smtp not configured, skipping mail", "subject", subject)
		return nil
	}

	message := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	var err error
	if m.cfg.TLS {
		err = m.sendTLS(addr, to, message)
	} else {
		err = m.sendPlain(addr, to, message)
	}

	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "mail sent", "recipients", len(to), "subject", subject)

	return nil
}

// sendPlain uses smtp.SendMail which negotiates STARTTLS automatically.
func (m *SMTPMailer) sendPlain(addr string, to []string, message []byte) error {
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, to, message); err != nil {
		return fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	return nil
}

// sendTLS establishes an implicit TLS connection before the SMTP handshake,
// for servers that expect TLS from the first byte (port 465).
func (m *SMTPMailer) sendTLS(addr string, to []string, message []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("%w: tls dial: %s", ErrSendFailed, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("%w: smtp client: %s", ErrSendFailed, err)
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: auth: %s", ErrSendFailed, err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %s", ErrSendFailed, err)
	}

	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("%w: RCPT TO %s: %s", ErrSendFailed, recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %s", ErrSendFailed, err)
	}

	if _, err := writer.Write(message); err != nil {
		return fmt.Errorf("%w: write body: %s", ErrSendFailed, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: close DATA: %s", ErrSendFailed, err)
	}

	return client.Quit()
}

// buildMessage composes a minimal RFC 5322 mail.
func buildMessage(from string, to []string, subject, body string) []byte {
	var sb strings.Builder

	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)

	return []byte(sb.String())
}
