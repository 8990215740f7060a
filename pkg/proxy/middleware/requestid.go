package middleware

import (
	"net/http"
	"regexp"

	"duckcoding-hq/relay/pkg/telemetry/logging"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// validRequestID bounds what a client may inject into our logs.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDMiddleware tags every request with an id, stores it in the
// request context for logging and echoes it in the response headers. A
// well-formed client X-Request-ID is kept; anything else is replaced by a
// fresh uuid, also on the forwarded request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

// ContextRequestIDMiddleware stores a request id in the request context for
// logging only. The request and response headers pass through untouched, so
// the upstream sees the client's X-Request-ID and the client sees the
// upstream's. A well-formed client id is used as the log id; otherwise a
// fresh uuid is.
func ContextRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = uuid.NewString()
		}
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

// GetRequestID returns the request id of ctx, or "".
var GetRequestID = logging.GetRequestID
