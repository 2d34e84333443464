// Package repo declares the persistence contracts shared by the registry and the
// session manager. Lookups return (nil, nil) when a record does not exist.
package repo

import (
	"context"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
)

// AccessCodeRepo stores access codes and their usage. Codes and emails arrive canonicalized.
type AccessCodeRepo interface {
	Get(ctx context.Context, code string) (*domain.AccessCode, error)
	List(ctx context.Context) ([]domain.AccessCode, error)
	// Upsert creates or replaces a code and resets its usage.
	Upsert(ctx context.Context, c *domain.AccessCode) error
	// Delete removes the code and its usage. It reports whether a code existed.
	Delete(ctx context.Context, code string) (bool, error)
	// UpdateEmails replaces the allow-list in place, keeping usage.
	UpdateEmails(ctx context.Context, code string, emails []string) (bool, error)

	RecordRedemption(ctx context.Context, code, email string, at time.Time) error
	Touch(ctx context.Context, code string, at time.Time) error
	Usage(ctx context.Context, code string) (*domain.UsageStats, error)
}

// SessionRepo stores test-session grants keyed by session id. Tokens are never persisted.
type SessionRepo interface {
	Create(ctx context.Context, g *domain.SessionGrant) error
	Get(ctx context.Context, id string) (*domain.SessionGrant, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByCode(ctx context.Context, code string) (int, error)
	ListByCode(ctx context.Context, code string) ([]domain.SessionGrant, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type AdminSessionRepo interface {
	Create(ctx context.Context, s *domain.AdminSession) error
	Get(ctx context.Context, id string) (*domain.AdminSession, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
