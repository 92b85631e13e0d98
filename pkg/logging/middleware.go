package logging

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlogMiddleware logs each request at the given topic and converts
// panics to stack traces instead of letting them take down the server.
func SlogMiddleware(topic string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic recovered",
						"topic", topic,
						"request_id", GetRequestID(r),
						"recover_info", rec,
						"debug_stack", string(debug.Stack()))
					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				slog.Info("request",
					"topic", topic,
					"request_id", GetRequestID(r),
					"remote_ip", r.RemoteAddr,
					"url", r.URL.Path,
					"method", r.Method,
					"status", ww.Status(),
					"latency_ms", float64(time.Since(start).Nanoseconds())/1e6,
					"bytes_out", ww.BytesWritten())
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// GetRequestID returns the chi request ID, or "-" if none is set.
func GetRequestID(r *http.Request) string {
	id, ok := r.Context().Value(middleware.RequestIDKey).(string)
	if !ok {
		return "-"
	}
	return id
}

// WithTopic returns a logger with a "topic" attribute for per-component
// logging. The engine packages log through the default logger and do not
// call it.
func WithTopic(topic string) *slog.Logger {
	return slog.Default().With("topic", topic)
}
