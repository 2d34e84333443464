package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/zks-preview/internal/http/response"
	"github.com/diagnosis/zks-preview/pkg/logger"
	"github.com/diagnosis/zks-preview/pkg/metrics"
)

// RateLimitStore counts requests per key in a sliding window. Both the Redis and
// the in-memory limiter implement it.
type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Name     string                         // key namespace, e.g. "redeem"
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Function to generate rate limit keys
	Metrics  *metrics.Metrics               // optional; counts rejections for redemptions
}

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(store RateLimitStore, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKeyFunc
	}
	return &RateLimiter{
		store:  store,
		config: config,
	}
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), rl.config.Name+":"+key) {
					if rl.config.Metrics != nil && rl.config.Name == "redeem" {
						rl.config.Metrics.Redemptions.WithLabelValues(metrics.OutcomeLimited).Inc()
					}
					w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.Window.Seconds())))
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ok, err := rl.store.CheckRateLimit(ctx, key, rl.config.Requests, rl.config.Window)
	if err != nil {
		// On store error, allow the request (fail open)
		logger.WarnContext(ctx, "Rate limit check failed", "error", err, "limiter", rl.config.Name)
		return true
	}
	return ok
}

// ClientIPKeyFunc rate limits by the connection's remote address. Forwarded
// headers are only honoured when the router runs chi's RealIP in front of this,
// which it does only behind a trusted proxy.
func ClientIPKeyFunc(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return ip
}
