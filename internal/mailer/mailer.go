// Package mailer delivers transactional mail over SMTP. When no SMTP
// host is configured the message is written to the log instead, which
// stands in for delivery during development.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/notedock/notedock/internal/config"
	log "github.com/sirupsen/logrus"
)

// Sender delivers a plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender sends mail through a configured SMTP relay.
type SMTPSender struct {
	cfg    config.SMTPConfig
	sendFn func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// New constructs a Sender for the given SMTP settings. An empty host
// yields a sender that only logs.
func New(cfg config.SMTPConfig) Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		return &logSender{}
	}
	return &SMTPSender{cfg: cfg, sendFn: smtp.SendMail}
}

// Send delivers the message through the relay. The message body is not
// logged on the configured path so one-time codes stay out of the logs.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	port := s.cfg.Port
	if port <= 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, port)

	from := strings.TrimSpace(s.cfg.From)
	if from == "" {
		from = s.cfg.Username
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := buildMessage(from, to, subject, body)
	if errSend := s.sendFn(addr, auth, from, []string{to}, msg); errSend != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, errSend)
	}
	log.Infof("mailer: sent %q to %s", subject, to)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// logSender replaces delivery when SMTP is unconfigured.
type logSender struct{}

func (*logSender) Send(_ context.Context, to, subject, body string) error {
	log.Infof("mailer: no smtp configured, to=%s subject=%q body=%q", to, subject, body)
	return nil
}
