package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each caller (or client IP when anonymous) with its
// own token bucket. Idle buckets are swept lazily.
type RateLimiter struct {
	logger   *slog.Logger
	limit    RateLimit
	idle     time.Duration
	onError  ErrorWriter
	mu       sync.Mutex
	visitors map[string]*rateEntry
	lastScan time.Time
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit, logger *slog.Logger, onError ErrorWriter) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, _ error) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &RateLimiter{
		logger:   logger,
		limit:    limit,
		idle:     5 * time.Minute,
		onError:  onError,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

// ErrRateLimited is passed to the ErrorWriter for throttled requests.
var ErrRateLimited = rateLimitError{}

type rateLimitError struct{}

func (rateLimitError) Error() string { return "rate limit exceeded" }

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limit.RequestsPerSecond <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		identifier := visitorID(req)
		if !r.obtainLimiter(identifier).Allow() {
			r.logger.Debug("request throttled", slog.String("visitor", identifier), slog.String("path", req.URL.Path))
			w.Header().Set("Retry-After", "1")
			r.onError(w, req, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	if now.Sub(r.lastScan) > r.idle {
		for key, entry := range r.visitors {
			if now.Sub(entry.lastSeen) > r.idle {
				delete(r.visitors, key)
			}
		}
		r.lastScan = now
	}
	entry, ok := r.visitors[id]
	if ok {
		entry.lastSeen = now
		return entry.limiter
	}
	burst := r.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(r.limit.RequestsPerSecond), burst), lastSeen: now}
	r.visitors[id] = entry
	return entry.limiter
}

// Visitors reports the number of tracked buckets.
func (r *RateLimiter) Visitors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

func visitorID(r *http.Request) string {
	if caller, ok := CallerFrom(r.Context()); ok {
		return "caller:" + caller.Hex()
	}
	return "ip:" + clientID(r)
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
