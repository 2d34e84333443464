package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/zks-preview/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("zks-preview"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// LogPublisher is used when no NATS URL is configured. Events only reach the debug log.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	logger.DebugContext(ctx, "Event (not published)", "subject", subject, "data", data)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Event subjects
const (
	TestCodeCreated       = "testcode.created"
	TestCodeDeleted       = "testcode.deleted"
	TestCodeEmailsUpdated = "testcode.emails_updated"

	TestSessionRedeemed = "testsession.redeemed"
	TestSessionRevoked  = "testsession.revoked"

	AdminSessionCreated = "adminsession.created"
)

// Event payloads. Tokens never leave the process.
type TestCodeCreatedEvent struct {
	Code         string    `json:"code"`
	EmailCount   int       `json:"email_count"`
	CustomerName string    `json:"customer_name,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type TestCodeDeletedEvent struct {
	Code            string    `json:"code"`
	RevokedSessions int       `json:"revoked_sessions"`
	DeletedAt       time.Time `json:"deleted_at"`
}

type TestCodeEmailsUpdatedEvent struct {
	Code            string    `json:"code"`
	EmailCount      int       `json:"email_count"`
	RevokedSessions int       `json:"revoked_sessions"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type TestSessionRedeemedEvent struct {
	SessionID  string    `json:"session_id"`
	Email      string    `json:"email"`
	AccessCode string    `json:"access_code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type TestSessionRevokedEvent struct {
	SessionID  string    `json:"session_id"`
	AccessCode string    `json:"access_code"`
	RevokedAt  time.Time `json:"revoked_at"`
}

type AdminSessionCreatedEvent struct {
	ExpiresAt time.Time `json:"expires_at"`
}
