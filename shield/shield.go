// Package shield holds the HTTP middleware in front of the adapter: trace
// ids with a per-request logger and access log on every request, and the
// hardening applied to the routes the adapter serves itself.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	br := chi.NewRouter()
//	for _, mw := range shield.BridgeStack(shield.BridgeConfig{MaxBody: 64 << 10}) {
//	    br.Use(mw)
//	}
package shield

import "net/http"

type loggerKey struct{}

// DefaultStack is applied to every request, proxied or not. It never
// touches the method, body or headers the origin sees.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		TraceID,
		AccessLog,
	}
}
