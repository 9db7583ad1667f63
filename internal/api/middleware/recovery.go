package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/metricrelay/kairos-proxy/internal/apierr"
)

// RecoveryMiddleware recovers from a panic in a downstream handler, logs it
// with a stack trace, and returns a well-formed 500 JSON error instead of
// crashing the process or hanging the connection.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := GetRequestID(r.Context())

					logger.Error("panic recovered",
						"request_id", requestID,
						"error", err,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)

					apierr.Write(w, apierr.Internal("an internal error occurred").WithRequestID(requestID))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
