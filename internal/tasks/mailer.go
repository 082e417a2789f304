package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"estate-backend/internal/logger"

	"github.com/sirupsen/logrus"
)

type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// SMTPMailer sends plain-text mail through a relay.
type SMTPMailer struct {
	Addr string
	User string
	Pass string
	From string
}

func (m *SMTPMailer) Send(_ context.Context, msg Email) error {
	var a smtp.Auth
	if m.User != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		a = smtp.PlainAuth("", m.User, m.Pass, host)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.From, msg.To, msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	return smtp.SendMail(m.Addr, a, m.From, []string{msg.To}, []byte(b.String()))
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Email) error {
	logger.Log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).Info("email (not sent, SMTP not configured)")
	return nil
}

// EmailHandler delivers email.send jobs.
func EmailHandler(m Mailer) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var msg Email
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode email: %w", err)
		}
		if msg.To == "" {
			return nil
		}
		return m.Send(ctx, msg)
	}
}
