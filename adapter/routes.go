package adapter

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/msadapter/bridge"
	"github.com/hazyhaar/msadapter/observability"
	"github.com/hazyhaar/msadapter/shield"
)

// Routes mounts the bridge and diagnostics under BridgePath and proxies
// everything else to upstream.
func (a *Adapter) Routes(upstream *url.URL) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	br := chi.NewRouter()
	for _, mw := range shield.BridgeStack(shield.BridgeConfig{
		MaxBody: 64 << 10,
		RateLimit: shield.RateLimitConfig{
			MaxRequests: a.cfg.RateLimit.MaxRequests,
			Window:      a.cfg.RateLimit.Window,
		},
	}) {
		br.Use(mw)
	}
	br.Get("/healthz", a.handleHealth)
	br.Get("/runs", a.handleRuns)
	br.Get("/metrics", a.handleMetrics)
	br.Mount("/", bridge.Handler(a.BridgeAPI, a.logger))
	r.Mount(a.cfg.BridgePath, br)

	r.Handle("/*", a.Proxy(upstream))
	return r
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":          "ok",
		"mapping_entries": a.mapping.Load().Len(),
	}
	if a.client != nil {
		resp["widget_breaker"] = a.client.Breaker().State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleRuns(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "run log disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.store.RecentRuns(r.Context(), limit)
	if err != nil {
		shield.GetLogger(r.Context()).Error("adapter: list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleMetrics summarizes recorded metrics over ?window= (default 1h).
func (a *Adapter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	a.metrics.Flush()
	sums, err := a.metrics.Summarize(r.Context(), observability.Filter{
		Name:  r.URL.Query().Get("name"),
		Since: time.Now().Add(-window),
	})
	if err != nil {
		shield.GetLogger(r.Context()).Error("adapter: summarize metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sums == nil {
		sums = []observability.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "metrics": sums})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
