package shield

import "net/http"

// BridgeConfig configures the hardening of adapter-owned routes.
type BridgeConfig struct {
	// Headers are set on every response. Nil means DefaultHeaders.
	Headers map[string]string
	// MaxBody caps request bodies in bytes. Zero leaves them uncapped.
	MaxBody int64
	// RateLimit is applied per client IP and path.
	RateLimit RateLimitConfig
}

// DefaultHeaders suit JSON endpoints and a single script: nothing is
// framed, sniffed or allowed to load further resources.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
}

// BridgeStack returns the middleware for routes the adapter answers itself.
func BridgeStack(cfg BridgeConfig) []func(http.Handler) http.Handler {
	headers := cfg.Headers
	if headers == nil {
		headers = DefaultHeaders()
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(headers),
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return append(stack, NewRateLimiter(cfg.RateLimit).Middleware)
}

// HeadToGet lets GET routes answer HEAD; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets headers on every response. Empty values are skipped.
func SecurityHeaders(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range headers {
				if v != "" {
					h.Set(k, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody caps request bodies at n bytes.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
