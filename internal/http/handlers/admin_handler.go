package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/internal/platform/mailer"
	"github.com/diagnosis/zks-preview/internal/registry"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/pkg/logger"
)

// AdminHandler serves admin login and access-code management.
type AdminHandler struct {
	Sessions *session.Manager
	Registry *registry.Registry
	Limiter  *middleware.RateLimiter
	EmailSvc mailer.Service
	SiteURL  string

	// async runs invitation sends; tests replace it to run inline.
	async func(func())
}

func NewAdminHandler(sessions *session.Manager, limiter *middleware.RateLimiter, emailSvc mailer.Service, siteURL string) *AdminHandler {
	return &AdminHandler{
		Sessions: sessions,
		Registry: sessions.Registry(),
		Limiter:  limiter,
		EmailSvc: emailSvc,
		SiteURL:  siteURL,
		async:    func(f func()) { go f() },
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter.Middleware())
		}
		r.Post("/login", h.login)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(h.Sessions))
		r.Get("/session", h.session)
		r.Post("/logout", h.logout)

		r.Get("/testcodes", h.listCodes)
		r.Post("/testcodes", h.createCode)
		r.Delete("/testcodes/{code}", h.deleteCode)
		r.Put("/testcodes/{code}/emails", h.updateEmails)
		r.Get("/testcodes/{code}/usage", h.usage)

		r.Get("/sessions", h.listSessions)
	})
	return r
}

func (h *AdminHandler) login(w http.ResponseWriter, r *http.Request) {
	var in domain.AdminLoginRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeServiceError(w, r, err, "Invalid request")
		return
	}

	resp, err := h.Sessions.AdminLogin(r.Context(), in.Password)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			response.Unauthorized(w)
			return
		}
		logger.ErrorContext(r.Context(), "Admin login failed", "error", err)
		response.InternalError(w, "Failed to create session")
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) session(w http.ResponseWriter, r *http.Request) {
	s := middleware.AdminSession(r)
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"expiresAt": s.ExpiresAt,
	})
}

func (h *AdminHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.AdminLogout(r.Context(), middleware.AdminSession(r).Token); err != nil {
		logger.ErrorContext(r.Context(), "Admin logout failed", "error", err)
		response.InternalError(w, "Failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) listCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Sessions.ListCodes(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list access codes", "error", err)
		response.InternalError(w, "Failed to list access codes")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": codes})
}

func (h *AdminHandler) createCode(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateAccessCodeRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	c, err := h.Registry.Create(r.Context(), &in)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create access code")
		return
	}

	if in.Notify && h.EmailSvc != nil {
		h.sendInvites(r, c)
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": c})
}

func (h *AdminHandler) sendInvites(r *http.Request, c *domain.AccessCode) {
	// Detached from the request so the response does not cancel delivery; the
	// mailer bounds each send with its own timeout.
	ctx := context.WithoutCancel(r.Context())
	emails := append([]string(nil), c.AllowedEmails...)
	code, customer := c.Code, c.CustomerName

	h.async(func() {
		for _, email := range emails {
			inv := mailer.Invite{
				Email:        email,
				Code:         code,
				Link:         mailer.InviteLink(h.SiteURL, email, code),
				CustomerName: customer,
			}
			if err := h.EmailSvc.SendTestAccessInvite(ctx, inv); err != nil {
				logger.WarnContext(ctx, "Failed to send access invite", "error", err, "code", code, "to", email)
			}
		}
	})
}

func (h *AdminHandler) deleteCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	deleted, err := h.Registry.Delete(r.Context(), code)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to delete access code", "error", err, "code", code)
		response.InternalError(w, "Failed to delete access code")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

func (h *AdminHandler) updateEmails(w http.ResponseWriter, r *http.Request) {
	var in domain.UpdateAllowListRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	c, err := h.Registry.UpdateAllowList(r.Context(), chi.URLParam(r, "code"), &in)
	if errors.Is(err, registry.ErrNotFound) {
		response.NotFound(w, "Access code not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to update allow-list")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": c})
}

func (h *AdminHandler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.Sessions.Usage(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, registry.ErrNotFound) {
		response.NotFound(w, "Access code not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to load usage")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": u})
}

func (h *AdminHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		response.BadRequest(w, "code query parameter is required")
		return
	}
	sessions, err := h.Sessions.ListSessions(r.Context(), code)
	if errors.Is(err, registry.ErrNotFound) {
		response.NotFound(w, "Access code not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to list sessions")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": sessions})
}
