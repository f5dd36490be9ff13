package dispatch

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send dials the relay per message. gomail has no context support, so ctx is
// only checked before dialing. Relay errors are treated as transient.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := buildEmail(s.from, msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		return Transient(fmt.Errorf("smtp send: %w", err))
	}
	return nil
}

func buildEmail(from string, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.Address)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	m.AddAlternative("text/html", "<p>"+strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>")+"</p>")
	return m
}
