package mailer

import (
	"context"

	"github.com/diagnosis/zks-preview/pkg/logger"
)

// DevMailer logs invitations instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendTestAccessInvite(ctx context.Context, inv Invite) error {
	msg := inviteMessage(inv)
	logger.InfoContext(ctx, "[DEV MAIL] Test access invite",
		"to", msg.To,
		"subject", msg.Subject,
		"code", inv.Code,
		"link", inv.Link,
	)
	return nil
}
