package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"duckcoding-hq/relay/pkg/proxy/types"

	"github.com/goccy/go-json"
)

// RecoveryMiddleware recovers from panics in HTTP handlers, logs them with a
// stack trace and answers 500 in the proxy's error envelope. Aborted
// handlers (http.ErrAbortHandler) are passed through to net/http, which
// closes the connection quietly.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				errResp := types.NewServerError("An internal error occurred. Please try again later.")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(errResp)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
