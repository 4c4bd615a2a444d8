package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/pulseguard/internal/models"
	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailSender struct {
	dialer mailDialer
	from   string
}

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	if from == "" {
		from = username
	}
	return &EmailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send mails the alert to the channel destination, which may hold several
// comma separated addresses.
func (e *EmailSender) Send(ctx context.Context, ch models.NotificationChannel, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	receivers := splitAddresses(ch.Destination)
	if len(receivers) == 0 {
		return errors.New("no email receivers configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", receivers...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	return e.dialer.DialAndSend(m)
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
