package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/platform/mailer"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/pkg/metrics"
	mw "github.com/diagnosis/zks-preview/pkg/middleware"
)

type RouterDeps struct {
	Sessions       *session.Manager
	Chat           ChatSender
	EmailSvc       mailer.Service
	Metrics        *metrics.Metrics
	RedeemLimiter  *middleware.RateLimiter
	LoginLimiter   *middleware.RateLimiter
	AllowedOrigins []string
	SiteURL        string
	ChatOptions    ChatOptions
	// TrustProxy rewrites RemoteAddr from forwarded headers before logging and
	// rate limiting see it.
	TrustProxy     bool
}

// NewRouter builds the full HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if d.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("zks-preview"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	if d.Metrics != nil {
		r.Use(mw.Metrics(d.Metrics))
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(mw.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	NewAccessHandler(d.Sessions, d.RedeemLimiter, d.Metrics).Register(r)
	NewChatHandler(d.Sessions, d.Chat, d.Metrics, d.ChatOptions).Register(r)
	r.Mount("/admin", NewAdminHandler(d.Sessions, d.LoginLimiter, d.EmailSvc, d.SiteURL).Routes())

	return r
}
