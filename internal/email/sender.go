// Package email delivers alert notifications over plain SMTP. The sender sits
// behind the notifier's EmailSender interface; an unconfigured sender turns
// every send into a logged no-op so the email channel can be enabled on rules
// before the relay exists.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

type Sender struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger *slog.Logger
}

func NewSender(addr, from, user, password string, logger *slog.Logger) *Sender {
	var auth smtp.Auth
	if user != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", user, password, host)
	}

	return &Sender{
		addr:   addr,
		from:   from,
		auth:   auth,
		logger: logger,
	}
}

func (s *Sender) Send(ctx context.Context, to []string, subject, body string) error {
	if s.addr == "" {
		s.logger.Warn("smtp not configured, dropping email notification",
			"recipients", len(to),
			"subject", subject,
		)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(s.from, to, subject, body)

	if err := smtp.SendMail(s.addr, s.auth, s.from, to, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Info("email notification sent",
		"recipients", len(to),
		"subject", subject,
	)

	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
