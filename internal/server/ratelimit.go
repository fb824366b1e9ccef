package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"golang.org/x/time/rate"

	"github.com/teemow/mcpdemo/internal/logging"
)

const (
	// DefaultRateLimitIdleTimeout is how long a client limiter may sit unused
	// before it is dropped.
	DefaultRateLimitIdleTimeout = 10 * time.Minute
)

// RateLimitConfig configures per-client rate limiting on the MCP endpoint.
// A zero Rate disables limiting.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate float64

	// Burst is the bucket size. Defaults to 1 when Rate is set.
	Burst int

	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP. Only enable
	// behind a proxy that sets these headers.
	TrustProxy bool

	// IdleTimeout defaults to DefaultRateLimitIdleTimeout.
	IdleTimeout time.Duration

	Clock  clockz.Clock
	Logger *slog.Logger
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	config  RateLimitConfig
	clock   clockz.Clock
	logger  *slog.Logger
}

// NewRateLimiter returns nil when config.Rate is not positive; a nil
// RateLimiter passes every request through.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Rate <= 0 {
		return nil
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitIdleTimeout
	}
	if config.Clock == nil {
		config.Clock = clockz.RealClock
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		config:  config,
		clock:   config.Clock,
		logger:  logging.WithComponent(config.Logger, "ratelimit"),
	}
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Prune drops limiters idle for longer than the idle timeout and returns
// how many were removed.
func (rl *RateLimiter) Prune() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.config.IdleTimeout {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Idle limiters are pruned opportunistically on rejection.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.config.TrustProxy)

		if !rl.Allow(ip) {
			rl.Prune()
			rl.logger.Warn("rate limit exceeded", slog.String("client", ip))
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
