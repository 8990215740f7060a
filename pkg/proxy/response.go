package proxy

import (
	"net/http"
	"sync"

	"duckcoding-hq/relay/pkg/proxy/types"

	"github.com/goccy/go-json"
)

// responseWriter wraps http.ResponseWriter to observe the status code, count
// body bytes and run a hook once the headers are written.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
	bytes      int64

	onHeader func()
	once     sync.Once
}

func newResponseWriter(w http.ResponseWriter, onHeader func()) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		onHeader:       onHeader,
	}
}

// WriteHeader records the status and runs the header hook.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	// 1xx responses are informational and may precede the final header.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		rw.ResponseWriter.WriteHeader(code)
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
	if rw.onHeader != nil {
		rw.once.Do(rw.onHeader)
	}
}

// Write writes body bytes, sending a 200 header first if needed.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush sends buffered data to the client.
func (rw *responseWriter) Flush() {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	_ = http.NewResponseController(rw.ResponseWriter).Flush()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// WriteErrorResponse writes an error body with the status of its type.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) {
	body, err := json.Marshal(errResp)
	if err != nil {
		body = []byte(`{"type":"error","error":{"type":"api_error","message":"internal error"}}`)
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Relay-Error", errResp.Error.Type)
	w.WriteHeader(errResp.Error.HTTPStatusCode())
	_, _ = w.Write(body)
}

// rewriteResponse hides the upstream address from the client.
func rewriteResponse(res *http.Response, ex *exchange) {
	h := res.Header
	h.Del("Alt-Svc")
	if ex == nil || ex.route.URL == nil {
		return
	}
	for _, key := range []string{"Location", "Content-Location"} {
		if v := h.Get(key); v != "" {
			h.Set(key, relativeTo(v, ex.route.URL))
		}
	}
}
