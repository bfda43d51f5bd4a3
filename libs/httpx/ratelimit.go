package httpx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cleanroute/cleanroute/libs/apperr"
)

// Decision is a limiter's verdict for one request. RetryAfter is set when the
// request is rejected.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// WithRateLimit rejects requests over the limiter's budget with 429. When the
// limiter itself fails, failOpen decides whether the request passes.
func WithRateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "path", r.URL.Path, "fail_open", failOpen, "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: "rate limiter unavailable", Kind: apperr.KindIntegration})
				return
			}
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(d.RetryAfter)))
				WriteError(w, r, logger, apperr.RateLimited("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// MemoryRateLimiter is a per-process fixed-window limiter.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*fixedWindow
	swept   time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: map[string]*fixedWindow{},
	}
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	w := rl.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		rl.windows[key] = &fixedWindow{count: 1, resetAt: now.Add(rl.window)}
		return Decision{Allowed: true}, nil
	}
	if w.count >= rl.limit {
		return Decision{RetryAfter: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}

// sweep drops expired windows at most once per window.
func (rl *MemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(rl.swept) < rl.window {
		return
	}
	for k, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, k)
		}
	}
	rl.swept = now
}

// clientKey is the first X-Forwarded-For hop set by the gateway, else the peer address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
