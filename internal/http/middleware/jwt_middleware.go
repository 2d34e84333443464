package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

type ctxKey string

const (
	CtxGrant        ctxKey = "session_grant"
	CtxAdminSession ctxKey = "admin_session"
)

type SessionLookup interface {
	Lookup(ctx context.Context, token string) (*domain.SessionGrant, error)
}

type AdminLookup interface {
	AdminLookup(ctx context.Context, token string) (*domain.AdminSession, error)
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

// RequireTestSession admits requests carrying a live test-session token.
func RequireTestSession(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				response.Unauthorized(w)
				return
			}
			grant, err := sessions.Lookup(r.Context(), tok)
			if err != nil {
				if !errors.Is(err, session.ErrUnauthorized) {
					logger.ErrorContext(r.Context(), "Session lookup failed", "error", err)
					response.InternalError(w, "Failed to validate session")
					return
				}
				response.Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), CtxGrant, grant)
			ctx = context.WithValue(ctx, logger.SubjectKey, grant.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin admits requests carrying a live admin token. Test-session tokens fail.
func RequireAdmin(admins AdminLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				response.Unauthorized(w)
				return
			}
			s, err := admins.AdminLookup(r.Context(), tok)
			if err != nil {
				if !errors.Is(err, session.ErrUnauthorized) {
					logger.ErrorContext(r.Context(), "Admin session lookup failed", "error", err)
					response.InternalError(w, "Failed to validate session")
					return
				}
				response.Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), CtxAdminSession, s)
			ctx = context.WithValue(ctx, logger.SubjectKey, "admin")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func Grant(r *http.Request) *domain.SessionGrant {
	if v, ok := r.Context().Value(CtxGrant).(*domain.SessionGrant); ok {
		return v
	}
	return nil
}

func AdminSession(r *http.Request) *domain.AdminSession {
	if v, ok := r.Context().Value(CtxAdminSession).(*domain.AdminSession); ok {
		return v
	}
	return nil
}
