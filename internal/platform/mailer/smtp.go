package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/zks-preview/pkg/config"
)

// SMTPMailer delivers over SMTP. With UseTLS it dials implicit TLS (port 465);
// otherwise it upgrades with STARTTLS whenever the server offers it. Certificates
// are always verified against Host.
type SMTPMailer struct {
	host    string
	addr    string
	from    mail.Address
	auth    smtp.Auth
	tlsConf *tls.Config
	useTLS  bool
	timeout time.Duration
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	host := strings.TrimSpace(cfg.SMTPHost)
	s := &SMTPMailer{
		host:    host,
		addr:    net.JoinHostPort(host, strconv.Itoa(cfg.SMTPPort)),
		from:    mail.Address{Name: cfg.FromName, Address: strings.TrimSpace(cfg.SMTPFrom)},
		tlsConf: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		useTLS:  cfg.SMTPUseTLS,
		timeout: cfg.SendTimeout,
	}
	if user := strings.TrimSpace(cfg.SMTPUser); user != "" {
		// PlainAuth refuses to send credentials over an unencrypted link to a
		// non-local host.
		s.auth = smtp.PlainAuth("", user, strings.TrimSpace(cfg.SMTPPass), host)
	}
	return s
}

// Send returns the Message-ID it stamped on the message.
func (s *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return "", fmt.Errorf("smtp send: empty recipient")
	}
	ctx, cancel := withDeadline(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return "", fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !s.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConf); err != nil {
				return "", fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	if err := c.Mail(s.from.Address); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return "", fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.render(id, msg)); err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return "", fmt.Errorf("smtp quit: %w", err)
	}
	return id, nil
}

func (s *SMTPMailer) SendTestAccessInvite(ctx context.Context, inv Invite) error {
	_, err := s.Send(ctx, inviteMessage(inv))
	return err
}

func (s *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{}
	if s.useTLS {
		td := &tls.Dialer{NetDialer: d, Config: s.tlsConf}
		return td.DialContext(ctx, "tcp", s.addr)
	}
	return d.DialContext(ctx, "tcp", s.addr)
}

// render builds a multipart/alternative message with encoded headers.
func (s *SMTPMailer) render(id string, msg Message) []byte {
	var buf bytes.Buffer
	boundary := "zks-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	to := mail.Address{Name: msg.ToName, Address: strings.TrimSpace(msg.To)}

	fmt.Fprintf(&buf, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", id)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	for _, part := range []struct{ kind, body string }{{"plain", msg.Text}, {"html", msg.HTML}} {
		if part.body == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: text/%s; charset=utf-8\r\n\r\n", part.kind)
		buf.WriteString(part.body)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
