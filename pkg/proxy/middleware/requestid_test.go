package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seenCtx, seenHeader string
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtx = GetRequestID(r.Context())
		seenHeader = r.Header.Get(RequestIDHeader)
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"client id kept", "req_01HZX.retry-2", true},
		{"oversized id replaced", strings.Repeat("a", 129), false},
		{"log injection replaced", "abc\nlevel=error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			wrapped.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			require.Equal(t, got, seenCtx, "context id matches response")
			require.Equal(t, got, seenHeader, "forwarded id matches response")
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
				return
			}
			_, err := uuid.Parse(got)
			assert.NoError(t, err, "request id %q is not a uuid", got)
		})
	}
}

func TestRequestIDUnique(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(RequestIDHeader)
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}

	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()),
		"context without middleware has no request id")
}

func TestContextRequestIDMiddlewareLeavesHeaders(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keepID   bool
	}{
		{"absent", "", false},
		{"well formed", "req_01HZX", true},
		{"rejected by pattern", "trace/abc/zzzzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID, forwarded string
			h := ContextRequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
				forwarded = r.Header.Get(RequestIDHeader)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.incoming, forwarded, "forwarded header is untouched")
			assert.Empty(t, w.Header().Values(RequestIDHeader), "no response header is set")
			require.NotEmpty(t, ctxID)
			if tt.keepID {
				assert.Equal(t, tt.incoming, ctxID)
			} else {
				assert.NotEqual(t, tt.incoming, ctxID, "context id is generated")
			}
		})
	}
}
