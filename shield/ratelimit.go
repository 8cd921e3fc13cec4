package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window limit per client IP. A zero
// MaxRequests disables limiting.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter limits requests per client IP and endpoint.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter returns a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

func (rl *RateLimiter) allow(key string) bool {
	if rl.cfg.MaxRequests <= 0 {
		return true
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.cfg.Window)}
		if len(rl.buckets) > 10_000 {
			rl.gcLocked(now)
		}
		return true
	}
	b.count++
	return b.count <= rl.cfg.MaxRequests
}

// gcLocked drops expired buckets. Must be called with mu held.
func (rl *RateLimiter) gcLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, k)
		}
	}
}

// Middleware rejects over-limit requests with a JSON 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if rl.allow(ip + " " + r.Method + " " + r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip)
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window.Seconds())))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
