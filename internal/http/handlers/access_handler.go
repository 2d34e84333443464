package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/pkg/logger"
	"github.com/diagnosis/zks-preview/pkg/metrics"
)

// AccessHandler serves redemption and the visitor's own session.
type AccessHandler struct {
	Sessions *session.Manager
	Limiter  *middleware.RateLimiter
	Metrics  *metrics.Metrics
}

func NewAccessHandler(sessions *session.Manager, limiter *middleware.RateLimiter, m *metrics.Metrics) *AccessHandler {
	return &AccessHandler{Sessions: sessions, Limiter: limiter, Metrics: m}
}

func (h *AccessHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter.Middleware())
		}
		r.Post("/test-access", h.redeem)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTestSession(h.Sessions))
		r.Get("/test-session", h.current)
		r.Delete("/test-session", h.logout)
	})
}

func (h *AccessHandler) redeem(w http.ResponseWriter, r *http.Request) {
	var in domain.TestAccessRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		writeServiceError(w, r, err, "Invalid request")
		return
	}

	resp, err := h.Sessions.Redeem(r.Context(), in.Email, in.AccessCode)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredential) {
			h.count(metrics.OutcomeDenied)
			response.InvalidCredential(w, "Invalid access code or email")
			return
		}
		logger.ErrorContext(r.Context(), "Redemption failed", "error", err)
		response.InternalError(w, "Failed to create session")
		return
	}

	h.count(metrics.OutcomeGranted)
	response.WriteJSON(w, http.StatusCreated, resp)
}

func (h *AccessHandler) current(w http.ResponseWriter, r *http.Request) {
	g := middleware.Grant(r)
	response.WriteJSON(w, http.StatusOK, domain.TestSessionResponse{
		Valid:      true,
		SessionID:  g.ID,
		Email:      g.Email,
		AccessCode: g.AccessCode,
		ExpiresAt:  g.ExpiresAt,
		BotConfig:  g.BotConfig,
	})
}

func (h *AccessHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Revoke(r.Context(), middleware.Grant(r).Token); err != nil {
		logger.ErrorContext(r.Context(), "Logout failed", "error", err)
		response.InternalError(w, "Failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccessHandler) count(outcome string) {
	if h.Metrics != nil {
		h.Metrics.Redemptions.WithLabelValues(outcome).Inc()
	}
}
