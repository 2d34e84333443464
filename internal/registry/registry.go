// Package registry owns access codes: their allow-lists, expiry, bot configuration
// and usage accounting.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/repo"
	"github.com/diagnosis/zks-preview/internal/utils"
	"github.com/diagnosis/zks-preview/pkg/events"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

var ErrNotFound = errors.New("access code not found")

// Revoker drops sessions derived from a code. The session manager implements it.
type Revoker interface {
	RevokeAllForCode(ctx context.Context, code string) (int, error)
	RevokeEmailsNotIn(ctx context.Context, code string, keep []string) (int, error)
}

type Registry struct {
	repo    repo.AccessCodeRepo
	events  events.Publisher
	revoker Revoker
	now     func() time.Time
}

func New(r repo.AccessCodeRepo, pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &Registry{repo: r, events: pub, now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// SetRevoker wires the cascade target. Lookups re-validate against the registry
// anyway, so a missing revoker never leaves a stale session usable.
func (r *Registry) SetRevoker(rv Revoker) {
	r.revoker = rv
}

// Eligible returns the code when email may redeem it right now.
func (r *Registry) Eligible(ctx context.Context, email, code string) (*domain.AccessCode, bool, error) {
	email = utils.NormalizeEmail(email)
	code = utils.NormalizeCode(code)
	if email == "" || code == "" {
		return nil, false, nil
	}
	c, err := r.repo.Get(ctx, code)
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	now := r.now()
	c.IsActive = c.ActiveAt(now)
	if !c.IsActive || !c.Allows(email) {
		return c, false, nil
	}
	return c, true, nil
}

// Validate never fails; storage errors count as "not valid".
func (r *Registry) Validate(ctx context.Context, email, code string) bool {
	_, ok, err := r.Eligible(ctx, email, code)
	if err != nil {
		logger.ErrorContext(ctx, "Access code validation failed", "error", err)
		return false
	}
	return ok
}

func (r *Registry) Get(ctx context.Context, code string) (*domain.AccessCode, error) {
	c, err := r.repo.Get(ctx, utils.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("failed to get access code: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	c.IsActive = c.ActiveAt(r.now())
	return c, nil
}

// Create upserts a code. An existing code with the same name is replaced and its
// usage starts over.
func (r *Registry) Create(ctx context.Context, req *domain.CreateAccessCodeRequest) (*domain.AccessCode, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	c := &domain.AccessCode{
		Code:            req.Code,
		AllowedEmails:   req.Emails,
		CustomerName:    req.CustomerName,
		CustomerCompany: req.CustomerCompany,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(req.ExpiresInHours) * time.Hour),
		BotConfig:       req.BotConfig,
	}

	existing, err := r.repo.Get(ctx, c.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing access code: %w", err)
	}
	if err := r.repo.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store access code: %w", err)
	}
	c.IsActive = true

	if existing != nil {
		// Emails dropped by the overwrite lose their sessions just like an explicit shrink.
		r.revokeRemoved(ctx, c.Code, c.AllowedEmails)
	}

	logger.InfoContext(ctx, "Access code created", "code", c.Code, "emails", len(c.AllowedEmails), "expires_at", c.ExpiresAt, "replaced", existing != nil)
	r.publish(ctx, events.TestCodeCreated, events.TestCodeCreatedEvent{
		Code:         c.Code,
		EmailCount:   len(c.AllowedEmails),
		CustomerName: c.CustomerName,
		ExpiresAt:    c.ExpiresAt,
	})
	return c, nil
}

// Delete removes the code and cascades to its sessions. Deleting a missing code is a
// no-op that reports false.
func (r *Registry) Delete(ctx context.Context, code string) (bool, error) {
	code = utils.NormalizeCode(code)
	deleted, err := r.repo.Delete(ctx, code)
	if err != nil {
		return false, fmt.Errorf("failed to delete access code: %w", err)
	}

	revoked := 0
	if r.revoker != nil {
		n, err := r.revoker.RevokeAllForCode(ctx, code)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to revoke sessions for deleted code", "error", err, "code", code)
		}
		revoked = n
	}

	if deleted {
		logger.InfoContext(ctx, "Access code deleted", "code", code, "revoked_sessions", revoked)
		r.publish(ctx, events.TestCodeDeleted, events.TestCodeDeletedEvent{
			Code:            code,
			RevokedSessions: revoked,
			DeletedAt:       r.now(),
		})
	}
	return deleted, nil
}

// UpdateAllowList replaces the allow-list in place. Sessions of removed emails are
// revoked; usage is kept.
func (r *Registry) UpdateAllowList(ctx context.Context, code string, req *domain.UpdateAllowListRequest) (*domain.AccessCode, error) {
	code = utils.NormalizeCode(code)
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ok, err := r.repo.UpdateEmails(ctx, code, req.Emails)
	if err != nil {
		return nil, fmt.Errorf("failed to update allow-list: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	revoked := r.revokeRemoved(ctx, code, req.Emails)

	logger.InfoContext(ctx, "Access code allow-list updated", "code", code, "emails", len(req.Emails), "revoked_sessions", revoked)
	r.publish(ctx, events.TestCodeEmailsUpdated, events.TestCodeEmailsUpdatedEvent{
		Code:            code,
		EmailCount:      len(req.Emails),
		RevokedSessions: revoked,
		UpdatedAt:       r.now(),
	})
	return r.Get(ctx, code)
}

// List returns every code with IsActive computed against the current time.
func (r *Registry) List(ctx context.Context) ([]domain.AccessCode, error) {
	codes, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list access codes: %w", err)
	}
	now := r.now()
	for i := range codes {
		codes[i].IsActive = codes[i].ActiveAt(now)
	}
	return codes, nil
}

func (r *Registry) RecordRedemption(ctx context.Context, code, email string) error {
	if err := r.repo.RecordRedemption(ctx, utils.NormalizeCode(code), utils.NormalizeEmail(email), r.now()); err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	return nil
}

// Touch bumps lastAccess after a successful session validation.
func (r *Registry) Touch(ctx context.Context, code string) error {
	if err := r.repo.Touch(ctx, utils.NormalizeCode(code), r.now()); err != nil {
		return fmt.Errorf("failed to touch access code: %w", err)
	}
	return nil
}

// Usage returns stored stats. ActiveSessionCount is left for the session manager.
func (r *Registry) Usage(ctx context.Context, code string) (*domain.UsageStats, error) {
	u, err := r.repo.Usage(ctx, utils.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *Registry) revokeRemoved(ctx context.Context, code string, keep []string) int {
	if r.revoker == nil {
		return 0
	}
	n, err := r.revoker.RevokeEmailsNotIn(ctx, code, keep)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to revoke sessions for removed emails", "error", err, "code", code)
	}
	return n
}

func (r *Registry) publish(ctx context.Context, subject string, data interface{}) {
	if err := r.events.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}
