package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/zks-preview/internal/http/handlers"
	"github.com/diagnosis/zks-preview/internal/http/middleware"
	"github.com/diagnosis/zks-preview/internal/platform/auth"
	"github.com/diagnosis/zks-preview/internal/platform/mailer"
	"github.com/diagnosis/zks-preview/internal/registry"
	"github.com/diagnosis/zks-preview/internal/repo"
	"github.com/diagnosis/zks-preview/internal/repo/memory"
	"github.com/diagnosis/zks-preview/internal/repo/postgres"
	"github.com/diagnosis/zks-preview/internal/repo/redisstore"
	"github.com/diagnosis/zks-preview/internal/session"
	"github.com/diagnosis/zks-preview/internal/upstream"
	"github.com/diagnosis/zks-preview/pkg/config"
	"github.com/diagnosis/zks-preview/pkg/database"
	"github.com/diagnosis/zks-preview/pkg/events"
	"github.com/diagnosis/zks-preview/pkg/logger"
	"github.com/diagnosis/zks-preview/pkg/metrics"
)

type stores struct {
	codes    repo.AccessCodeRepo
	sessions repo.SessionRepo
	admins   repo.AdminSessionRepo
	limits   middleware.RateLimitStore
	close    func()
}

func main() {
	if err := run(); err != nil {
		logger.Error("Preview service error", "error", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run() error {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.Auth.TokenSecret == config.DevTokenSecret {
		logger.Warn("TOKEN_SECRET is not set, using the development secret")
	}
	secret, err := auth.NewAdminSecret(cfg.Auth.AdminPassword, cfg.Auth.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("invalid admin secret configuration: %w", err)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s stores: %w", cfg.Store.Backend, err)
	}
	defer st.close()

	var pub events.Publisher = events.LogPublisher{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Warn("NATS unavailable, events will only be logged", "error", err)
		} else {
			pub = bus
		}
	}
	defer pub.Close()

	m := metrics.New()
	codec := auth.NewCodec(cfg.Auth.TokenSecret, cfg.Auth.Issuer)
	reg := registry.New(st.codes, pub)
	mgr := session.NewManager(reg, st.sessions, st.admins, codec, secret, pub, session.Options{
		TestSessionTTL:  cfg.Auth.TestSessionTTL,
		AdminSessionTTL: cfg.Auth.AdminSessionTTL,
	})

	router := handlers.NewRouter(handlers.RouterDeps{
		Sessions: mgr,
		Chat:     upstream.NewChatClient(cfg.Upstream.ChatWebhookURL, cfg.Upstream.Timeout),
		EmailSvc: mailer.New(cfg.Email),
		Metrics:  m,
		RedeemLimiter: middleware.NewRateLimiter(st.limits, middleware.RateLimitConfig{
			Name:     "redeem",
			Requests: cfg.RateLimit.RedeemAttempts,
			Window:   cfg.RateLimit.RedeemWindow,
			Metrics:  m,
		}),
		LoginLimiter: middleware.NewRateLimiter(st.limits, middleware.RateLimitConfig{
			Name:     "login",
			Requests: cfg.RateLimit.LoginAttempts,
			Window:   cfg.RateLimit.LoginWindow,
		}),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SiteURL:        cfg.Email.SiteURL,
		TrustProxy:     cfg.Server.TrustProxy,
		ChatOptions: handlers.ChatOptions{
			FallbackText:   cfg.Upstream.FallbackText,
			ContactURL:     cfg.Upstream.ContactURL,
			VoicePublicKey: cfg.Upstream.VoicePublicKey,
			VoiceAssistant: cfg.Upstream.VoiceAssistant,
		},
	})
	if cfg.Server.TrustProxy {
		logger.Info("Trusting forwarded client addresses from the proxy")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweep(sweepCtx, mgr, m, cfg.Server.SweepInterval)

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down preview service...")
		stopSweep()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Preview service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting preview service", "port", cfg.Server.Port, "store", cfg.Store.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on :%s: %w", cfg.Server.Port, err)
	}
	// stores stay open until in-flight requests finish
	<-drained
	return nil
}

// openStores wires Postgres for access codes and Redis for sessions and rate limits,
// or keeps everything in process memory.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Backend == "memory" {
		logger.Warn("Using in-memory stores, state is lost on restart")
		return &stores{
			codes:    memory.NewAccessCodeRepo(),
			sessions: memory.NewSessionRepo(),
			admins:   memory.NewAdminSessionRepo(),
			limits:   memory.NewRateLimiter(),
			close:    func() {},
		}, nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		codes:    postgres.NewAccessCodeRepo(pool),
		sessions: redisstore.NewSessionRepo(rdb),
		admins:   redisstore.NewAdminSessionRepo(rdb),
		limits:   redisstore.NewRateLimiter(rdb),
		close: func() {
			rdb.Close()
			pool.Close()
		},
	}, nil
}

func runSweep(ctx context.Context, mgr *session.Manager, m *metrics.Metrics, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tests, admins, err := mgr.Sweep(ctx)
			if err != nil {
				logger.Warn("Session sweep failed", "error", err)
				continue
			}
			m.SweptSession.WithLabelValues("test").Add(float64(tests))
			m.SweptSession.WithLabelValues("admin").Add(float64(admins))
			if tests+admins > 0 {
				logger.Info("Swept expired sessions", "test", tests, "admin", admins)
			}
		}
	}
}
