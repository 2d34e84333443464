package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

var ErrDisabled = errors.New("mailersend: missing API key or from address")

// Mailer sends through the MailerSend API.
type Mailer struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	timeout time.Duration
}

func NewMailer(apiKey, fromName, fromEmail string) *Mailer {
	m := &Mailer{
		from:    mailersend.From{Name: fromName, Email: strings.TrimSpace(fromEmail)},
		timeout: defaultSendTimeout,
	}
	if apiKey != "" && m.from.Email != "" {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

// WithTimeout bounds each API call that arrives without a deadline.
func (m *Mailer) WithTimeout(d time.Duration) *Mailer {
	if d > 0 {
		m.timeout = d
	}
	return m
}

func (m *Mailer) Enabled() bool { return m.client != nil }

// Send returns the MailerSend message id.
func (m *Mailer) Send(ctx context.Context, msg Message) (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}
	ctx, cancel := withDeadline(ctx, m.timeout)
	defer cancel()

	out := m.client.Email.NewMessage()
	out.SetFrom(m.from)
	out.SetRecipients([]mailersend.Recipient{{Name: msg.ToName, Email: msg.To}})
	out.SetSubject(msg.Subject)
	if strings.TrimSpace(msg.Text) != "" {
		out.SetText(msg.Text)
	}
	if strings.TrimSpace(msg.HTML) != "" {
		out.SetHTML(msg.HTML)
	}

	res, err := m.client.Email.Send(ctx, out)
	if err != nil {
		return "", fmt.Errorf("mailersend send: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("mailersend send: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return res.Header.Get("X-Message-Id"), nil
}

func (m *Mailer) SendTestAccessInvite(ctx context.Context, inv Invite) error {
	_, err := m.Send(ctx, inviteMessage(inv))
	return err
}
