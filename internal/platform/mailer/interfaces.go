package mailer

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/diagnosis/zks-preview/pkg/config"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

const defaultSendTimeout = 10 * time.Second

// Invite is one access-code invitation for a single allow-listed address.
type Invite struct {
	Email        string
	Code         string
	Link         string
	CustomerName string
}

// Service delivers access-code invitations.
type Service interface {
	SendTestAccessInvite(ctx context.Context, inv Invite) error
}

// Message is a rendered email with a text and an HTML body.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// New picks the transport: dev mode logs, a MailerSend key wins over SMTP.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.DevMode:
		logger.Info("Mailer running in dev mode, emails are logged only")
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		return NewMailer(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom).WithTimeout(cfg.SendTimeout)
	default:
		return NewSMTPMailer(cfg)
	}
}

// InviteLink points the visitor at the preview page with email and code prefilled.
func InviteLink(siteURL, email, code string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("code", code)
	return strings.TrimRight(siteURL, "/") + "/preview?" + q.Encode()
}

func inviteMessage(inv Invite) Message {
	greeting := "Hello"
	if inv.CustomerName != "" {
		greeting = "Hello " + inv.CustomerName
	}
	return Message{
		To:      inv.Email,
		ToName:  inv.CustomerName,
		Subject: "Your AI assistant preview is ready",
		Text: fmt.Sprintf("%s,\n\nyour personal preview is ready. Use access code %s with this email address, or open:\n%s\n",
			greeting, inv.Code, inv.Link),
		HTML: fmt.Sprintf(`<p>%s,</p><p>your personal preview is ready. Use access code <b>%s</b> with this email address.</p><p><a href="%s">Open the preview</a></p>`,
			html.EscapeString(greeting), html.EscapeString(inv.Code), html.EscapeString(inv.Link)),
	}
}

// withDeadline bounds ctx by d unless the caller already set a deadline.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if d <= 0 {
		d = defaultSendTimeout
	}
	return context.WithTimeout(ctx, d)
}
