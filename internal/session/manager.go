// Package session issues and validates test-session and admin-session bearer tokens.
//
// A token is only accepted while its server-side record exists and the access code
// it was derived from still admits the holder. Revocation therefore takes effect on
// the very next request, whether it was eager (delete, allow-list shrink) or not.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/platform/auth"
	"github.com/diagnosis/zks-preview/internal/registry"
	"github.com/diagnosis/zks-preview/internal/repo"
	"github.com/diagnosis/zks-preview/internal/utils"
	"github.com/diagnosis/zks-preview/pkg/events"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

var (
	// ErrInvalidCredential covers unknown code, expired code and email not on the
	// allow-list alike so callers cannot tell which one failed.
	ErrInvalidCredential = errors.New("invalid email or access code")
	ErrUnauthorized      = errors.New("unauthorized")
)

const (
	DefaultTestSessionTTL  = 24 * time.Hour
	DefaultAdminSessionTTL = 12 * time.Hour
)

type Options struct {
	TestSessionTTL  time.Duration
	AdminSessionTTL time.Duration
}

type Manager struct {
	registry *registry.Registry
	sessions repo.SessionRepo
	admins   repo.AdminSessionRepo
	codec    *auth.Codec
	secret   *auth.AdminSecret
	events   events.Publisher

	testTTL  time.Duration
	adminTTL time.Duration
	now      func() time.Time
}

// NewManager also registers the manager as the registry's revoker.
func NewManager(reg *registry.Registry, sessions repo.SessionRepo, admins repo.AdminSessionRepo, codec *auth.Codec, secret *auth.AdminSecret, pub events.Publisher, opts Options) *Manager {
	if opts.TestSessionTTL <= 0 {
		opts.TestSessionTTL = DefaultTestSessionTTL
	}
	if opts.AdminSessionTTL <= 0 {
		opts.AdminSessionTTL = DefaultAdminSessionTTL
	}
	if pub == nil {
		pub = events.LogPublisher{}
	}
	m := &Manager{
		registry: reg,
		sessions: sessions,
		admins:   admins,
		codec:    codec,
		secret:   secret,
		events:   pub,
		testTTL:  opts.TestSessionTTL,
		adminTTL: opts.AdminSessionTTL,
		now:      time.Now,
	}
	reg.SetRevoker(m)
	return m
}

// WithClock replaces the time source. The codec and registry should share it.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Registry() *registry.Registry { return m.registry }

// Redeem exchanges an email and access code for a test-session token.
func (m *Manager) Redeem(ctx context.Context, email, code string) (*domain.TestAccessResponse, error) {
	email = utils.NormalizeEmail(email)
	code = utils.NormalizeCode(code)

	c, ok, err := m.registry.Eligible(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check access code: %w", err)
	}
	if !ok {
		logger.InfoContext(ctx, "Test access denied", "code", code)
		return nil, ErrInvalidCredential
	}

	id := uuid.NewString()
	token, expiresAt, err := m.codec.Issue(auth.KindTest, id, m.testTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	grant := &domain.SessionGrant{
		ID:         id,
		Email:      email,
		AccessCode: c.Code,
		Token:      token,
		CreatedAt:  m.now(),
		ExpiresAt:  expiresAt,
		BotConfig:  c.BotConfig,
	}
	if err := m.sessions.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if err := m.registry.RecordRedemption(ctx, c.Code, email); err != nil {
		logger.ErrorContext(ctx, "Failed to record redemption", "error", err, "code", c.Code)
	}

	logger.InfoContext(ctx, "Test session issued", "session_id", id, "code", c.Code, "expires_at", expiresAt)
	m.publish(ctx, events.TestSessionRedeemed, events.TestSessionRedeemedEvent{
		SessionID:  id,
		Email:      email,
		AccessCode: c.Code,
		ExpiresAt:  expiresAt,
	})

	return &domain.TestAccessResponse{
		Token:        token,
		SessionID:    id,
		Email:        email,
		AccessCode:   c.Code,
		ExpiresAt:    expiresAt,
		CustomerName: c.CustomerName,
		BotConfig:    c.BotConfig,
	}, nil
}

// Lookup validates a test-session token. The returned grant keeps the bot
// configuration snapshotted at redemption. Grants that no longer pass are deleted.
func (m *Manager) Lookup(ctx context.Context, token string) (*domain.SessionGrant, error) {
	claims, err := m.codec.Verify(token)
	if err != nil || claims.Kind != auth.KindTest {
		return nil, ErrUnauthorized
	}

	g, err := m.sessions.Get(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if g == nil {
		return nil, ErrUnauthorized
	}
	if g.ExpiredAt(m.now()) {
		m.drop(ctx, g, "expired")
		return nil, ErrUnauthorized
	}

	_, ok, err := m.registry.Eligible(ctx, g.Email, g.AccessCode)
	if err != nil {
		return nil, fmt.Errorf("failed to check access code: %w", err)
	}
	if !ok {
		m.drop(ctx, g, "access code no longer admits holder")
		return nil, ErrUnauthorized
	}

	if err := m.registry.Touch(ctx, g.AccessCode); err != nil {
		logger.WarnContext(ctx, "Failed to update last access", "error", err, "code", g.AccessCode)
	}
	g.Token = token
	return g, nil
}

// Revoke ends the session behind token. It is idempotent for valid tokens.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims, err := m.codec.Verify(token)
	if err != nil || claims.Kind != auth.KindTest {
		return ErrUnauthorized
	}
	g, err := m.sessions.Get(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if g == nil {
		return nil
	}
	m.drop(ctx, g, "logout")
	return nil
}

func (m *Manager) RevokeAllForCode(ctx context.Context, code string) (int, error) {
	n, err := m.sessions.DeleteByCode(ctx, utils.NormalizeCode(code))
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return n, nil
}

// RevokeEmailsNotIn drops every session of code whose email is not in keep.
func (m *Manager) RevokeEmailsNotIn(ctx context.Context, code string, keep []string) (int, error) {
	code = utils.NormalizeCode(code)
	allowed := make(map[string]struct{}, len(keep))
	for _, e := range keep {
		allowed[utils.NormalizeEmail(e)] = struct{}{}
	}

	grants, err := m.sessions.ListByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	n := 0
	for i := range grants {
		if _, ok := allowed[grants[i].Email]; ok {
			continue
		}
		deleted, err := m.sessions.Delete(ctx, grants[i].ID)
		if err != nil {
			return n, fmt.Errorf("failed to revoke session: %w", err)
		}
		if deleted {
			n++
		}
	}
	return n, nil
}

// AdminLogin issues an admin token for the configured secret.
func (m *Manager) AdminLogin(ctx context.Context, password string) (*domain.AdminLoginResponse, error) {
	if m.secret == nil || !m.secret.Verify(password) {
		logger.WarnContext(ctx, "Admin login failed")
		return nil, ErrUnauthorized
	}

	id := uuid.NewString()
	token, expiresAt, err := m.codec.Issue(auth.KindAdmin, id, m.adminTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	s := &domain.AdminSession{ID: id, Token: token, CreatedAt: m.now(), ExpiresAt: expiresAt}
	if err := m.admins.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store admin session: %w", err)
	}

	logger.InfoContext(ctx, "Admin session issued", "expires_at", expiresAt)
	m.publish(ctx, events.AdminSessionCreated, events.AdminSessionCreatedEvent{ExpiresAt: expiresAt})
	return &domain.AdminLoginResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// AdminLookup accepts admin tokens only. A test-session token never passes.
func (m *Manager) AdminLookup(ctx context.Context, token string) (*domain.AdminSession, error) {
	claims, err := m.codec.Verify(token)
	if err != nil || claims.Kind != auth.KindAdmin {
		return nil, ErrUnauthorized
	}
	s, err := m.admins.Get(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin session: %w", err)
	}
	if s == nil {
		return nil, ErrUnauthorized
	}
	if s.ExpiredAt(m.now()) {
		if _, err := m.admins.Delete(ctx, s.ID); err != nil {
			logger.WarnContext(ctx, "Failed to delete expired admin session", "error", err)
		}
		return nil, ErrUnauthorized
	}
	s.Token = token
	return s, nil
}

func (m *Manager) AdminLogout(ctx context.Context, token string) error {
	claims, err := m.codec.Verify(token)
	if err != nil || claims.Kind != auth.KindAdmin {
		return ErrUnauthorized
	}
	if _, err := m.admins.Delete(ctx, claims.Subject); err != nil {
		return fmt.Errorf("failed to delete admin session: %w", err)
	}
	logger.InfoContext(ctx, "Admin session ended")
	return nil
}

// Usage returns stored stats plus the number of sessions that would pass Lookup now.
func (m *Manager) Usage(ctx context.Context, code string) (*domain.UsageStats, error) {
	c, err := m.registry.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	u, err := m.registry.Usage(ctx, c.Code)
	if err != nil {
		return nil, err
	}
	active, err := m.activeSessions(ctx, c)
	if err != nil {
		return nil, err
	}
	u.ActiveSessionCount = len(active)
	return u, nil
}

// ListCodes returns every code with its usage embedded.
func (m *Manager) ListCodes(ctx context.Context) ([]domain.AccessCodeWithUsage, error) {
	codes, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccessCodeWithUsage, 0, len(codes))
	for i := range codes {
		u, err := m.registry.Usage(ctx, codes[i].Code)
		if errors.Is(err, registry.ErrNotFound) {
			// deleted between list and usage
			continue
		}
		if err != nil {
			return nil, err
		}
		active, err := m.activeSessions(ctx, &codes[i])
		if err != nil {
			return nil, err
		}
		u.ActiveSessionCount = len(active)
		out = append(out, domain.AccessCodeWithUsage{AccessCode: codes[i], Usage: *u})
	}
	return out, nil
}

// ListSessions returns the live sessions of a code.
func (m *Manager) ListSessions(ctx context.Context, code string) ([]domain.SessionGrant, error) {
	c, err := m.registry.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.activeSessions(ctx, c)
}

// Sweep deletes expired test and admin sessions.
func (m *Manager) Sweep(ctx context.Context) (int, int, error) {
	now := m.now()
	tests, err := m.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep test sessions: %w", err)
	}
	admins, err := m.admins.DeleteExpired(ctx, now)
	if err != nil {
		return tests, 0, fmt.Errorf("failed to sweep admin sessions: %w", err)
	}
	return tests, admins, nil
}

func (m *Manager) activeSessions(ctx context.Context, c *domain.AccessCode) ([]domain.SessionGrant, error) {
	out := []domain.SessionGrant{}
	if !c.IsActive {
		return out, nil
	}
	grants, err := m.sessions.ListByCode(ctx, c.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := m.now()
	for _, g := range grants {
		if g.ExpiredAt(now) || !c.Allows(g.Email) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (m *Manager) drop(ctx context.Context, g *domain.SessionGrant, reason string) {
	deleted, err := m.sessions.Delete(ctx, g.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to delete session", "error", err, "session_id", g.ID)
		return
	}
	if !deleted {
		return
	}
	logger.InfoContext(ctx, "Test session revoked", "session_id", g.ID, "code", g.AccessCode, "reason", reason)
	m.publish(ctx, events.TestSessionRevoked, events.TestSessionRevokedEvent{
		SessionID:  g.ID,
		AccessCode: g.AccessCode,
		RevokedAt:  m.now(),
	})
}

func (m *Manager) publish(ctx context.Context, subject string, data interface{}) {
	if err := m.events.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}
