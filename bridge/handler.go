package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

//go:embed legacy.js
var legacyJS []byte

// ReadyWait bounds how long /ready waits for the widget before answering
// from storage.
var ReadyWait = 2 * time.Second

// Factory builds the API for one bridge request. It may write cookies.
type Factory func(w http.ResponseWriter, r *http.Request) *API

// Handler serves the endpoints legacy.js calls. Mount it under the bridge
// path with the prefix stripped:
//
//	r.Mount("/__msadapter", bridge.Handler(factory, logger))
func Handler(factory Factory, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{factory: factory, logger: logger}
	r := chi.NewRouter()
	r.Get("/legacy.js", h.handleLegacyJS)
	r.Get("/capabilities", h.call(CapOnReady, h.handleCapabilities))
	r.Get("/ready", h.call(CapOnReady, h.handleReady))
	r.Get("/token", h.call(CapGetToken, h.handleToken))
	r.Post("/reload", h.call(CapReload, h.handleReload))
	r.Post("/logout", h.call(CapLogout, h.handleLogout))
	r.Post("/select-membership", h.call(CapSelectMembership, h.handleSelectMembership))
	r.Get("/metadata", h.call(CapGetMetaData, h.handleGetMetaData))
	r.Post("/metadata", h.call(CapUpdateMetaData, h.handleUpdateMetaData))
	return r
}

type handler struct {
	factory Factory
	logger  *slog.Logger
}

type capHandler func(w http.ResponseWriter, r *http.Request, l Legacy)

// call resolves the API for the request and rejects capabilities the
// bridge does not offer.
func (h *handler) call(name string, fn capHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := h.factory(w, r).Legacy()
		if !l.Has(name) {
			h.logger.Warn("bridge: method not found in adapter", "method", name)
			jsonErr(w, "method not available: "+name, http.StatusNotImplemented)
			return
		}
		fn(w, r, l)
	}
}

func (h *handler) handleLegacyJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(legacyJS)
}

func (h *handler) handleCapabilities(w http.ResponseWriter, r *http.Request, l Legacy) {
	writeJSON(w, map[string]any{"methods": l.Names()})
}

func (h *handler) handleReady(w http.ResponseWriter, r *http.Request, l Legacy) {
	ctx, cancel := context.WithTimeout(r.Context(), ReadyWait)
	defer cancel()
	writeJSON(w, l.OnReady(ctx))
}

func (h *handler) handleToken(w http.ResponseWriter, r *http.Request, l Legacy) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, map[string]string{"token": l.GetToken()})
}

func (h *handler) handleReload(w http.ResponseWriter, r *http.Request, l Legacy) {
	l.Reload()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleSelectMembership(w http.ResponseWriter, r *http.Request, l Legacy) {
	l.SelectMembership()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request, l Legacy) {
	if err := l.Logout(r.Context()); err != nil {
		h.logger.Error("bridge: logout failed", "error", err)
		jsonErr(w, "logout failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleGetMetaData(w http.ResponseWriter, r *http.Request, l Legacy) {
	md, err := l.GetMetaData(r.Context())
	if err != nil {
		h.logger.Error("bridge: getMetaData failed", "error", err)
		jsonErr(w, "metadata unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, md)
}

func (h *handler) handleUpdateMetaData(w http.ResponseWriter, r *http.Request, l Legacy) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	md, err := l.UpdateMetaData(r.Context(), req)
	if err != nil {
		h.logger.Error("bridge: updateMetaData failed", "error", err)
		jsonErr(w, "metadata update failed", http.StatusBadGateway)
		return
	}
	if md == nil {
		md = map[string]any{}
	}
	writeJSON(w, md)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
