package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/msadapter/kit"
)

const traceHeader = "X-Trace-ID"

// TraceID gives each request a trace id, echoed in X-Trace-ID, and a logger
// carrying it. A well-formed incoming X-Trace-ID is kept so a trace can
// span the CDN in front of the adapter.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(traceHeader)
		if !validTraceID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(traceHeader, id)

		ctx := kit.WithTraceID(r.Context(), id)
		ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
		logger := slog.Default().With("trace_id", id, "method", r.Method, "path", r.URL.Path)
		ctx = context.WithValue(ctx, loggerKey{}, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validTraceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// GetLogger retrieves the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// AccessLog logs one line per request at debug level, or warn for 5xx.
// It must run after TraceID to pick up the request logger.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		level := slog.LevelDebug
		if sw.status >= 500 {
			level = slog.LevelWarn
		}
		GetLogger(r.Context()).Log(r.Context(), level, "request",
			"status", sw.status, "bytes", sw.bytes, "duration", time.Since(start))
	})
}
