package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/internal/upstream"
	"github.com/diagnosis/zks-preview/pkg/logger"
	"github.com/diagnosis/zks-preview/pkg/metrics"
)

type ChatSender interface {
	Send(ctx context.Context, webhookURL string, msg upstream.Message) (string, error)
}

type ChatOptions struct {
	FallbackText   string
	ContactURL     string
	VoicePublicKey string
	VoiceAssistant string // used when the code has no voiceAssistantId
}

// ChatHandler relays chat messages and exposes voice settings to session holders.
type ChatHandler struct {
	Sessions middleware.SessionLookup
	Chat     ChatSender
	Metrics  *metrics.Metrics
	opts     ChatOptions
}

func NewChatHandler(sessions middleware.SessionLookup, chat ChatSender, m *metrics.Metrics, opts ChatOptions) *ChatHandler {
	return &ChatHandler{Sessions: sessions, Chat: chat, Metrics: m, opts: opts}
}

func (h *ChatHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTestSession(h.Sessions))
		r.Post("/chat", h.chat)
		r.Get("/voice/config", h.voiceConfig)
	})
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var in domain.ChatRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		writeServiceError(w, r, err, "Invalid request")
		return
	}

	g := middleware.Grant(r)
	msg := upstream.Message{
		Message:    in.Message,
		SessionID:  g.ID,
		Email:      g.Email,
		AccessCode: g.AccessCode,
	}
	webhook := ""
	if g.BotConfig != nil {
		webhook = g.BotConfig.WebhookURL
		msg.BotName = g.BotConfig.BotName
		msg.Greeting = g.BotConfig.Greeting
	}

	start := time.Now()
	answer, err := h.Chat.Send(r.Context(), webhook, msg)
	if h.Metrics != nil {
		h.Metrics.ChatLatency.Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		h.count(metrics.OutcomeOK)
		response.WriteJSON(w, http.StatusOK, domain.ChatResponse{Response: answer})
	case errors.Is(err, upstream.ErrNoWebhook):
		h.count(metrics.OutcomeNoTarget)
		logger.ErrorContext(r.Context(), "No chat webhook configured", "code", g.AccessCode)
		response.UpstreamUnavailable(w, "Chat backend is not configured")
	default:
		h.count(metrics.OutcomeFallback)
		logger.WarnContext(r.Context(), "Chat upstream failed, sending fallback", "error", err, "code", g.AccessCode)
		response.WriteJSON(w, http.StatusOK, domain.ChatResponse{
			Response:   h.opts.FallbackText,
			Fallback:   true,
			ContactURL: h.opts.ContactURL,
		})
	}
}

func (h *ChatHandler) voiceConfig(w http.ResponseWriter, r *http.Request) {
	g := middleware.Grant(r)
	out := domain.VoiceConfigResponse{
		AssistantID: h.opts.VoiceAssistant,
		PublicKey:   h.opts.VoicePublicKey,
	}
	if g.BotConfig != nil {
		if g.BotConfig.VoiceAssistantID != "" {
			out.AssistantID = g.BotConfig.VoiceAssistantID
		}
		out.BotName = g.BotConfig.BotName
		out.Greeting = g.BotConfig.Greeting
	}
	if out.AssistantID == "" {
		response.NotFound(w, "Voice preview is not configured for this access code")
		return
	}
	response.WriteJSON(w, http.StatusOK, out)
}

func (h *ChatHandler) count(outcome string) {
	if h.Metrics != nil {
		h.Metrics.ChatRelays.WithLabelValues(outcome).Inc()
	}
}
