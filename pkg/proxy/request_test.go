package proxy

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffUserID(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
	}{
		{"claude code body", `{"metadata":{"user_id":"user_x_account__session_abc"}}`, "application/json", "user_x_account__session_abc"},
		{"no content type", `{"metadata":{"user_id":"u1"}}`, "", "u1"},
		{"leading whitespace", "\n  {\"metadata\":{\"user_id\":\"u1\"}}", "application/json; charset=utf-8", "u1"},
		{"no metadata", `{"model":"x"}`, "application/json", ""},
		{"array body", `[{"metadata":{"user_id":"u1"}}]`, "application/json", ""},
		{"not json", `metadata=1`, "application/x-www-form-urlencoded", ""},
		{"malformed", `{"metadata":`, "application/json", ""},
		{"empty", ``, "application/json", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffUserID([]byte(tt.body), tt.contentType))
		})
	}
}

func TestClientCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/models?key=q", nil)
	r.Header.Set("Authorization", "bearer tok")
	locs, key := clientCredential(r)
	assert.Equal(t, credAuthorization|credQueryKey, locs)
	assert.Equal(t, "tok", key)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	locs, key = clientCredential(r)
	assert.Zero(t, locs)
	assert.Empty(t, key)
}

func TestReplaceQueryValue(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"alt=sse&key=local&z=a,b&$x=1", "alt=sse&key=UP%2F1&z=a,b&$x=1"},
		{"key=a&x=%2F&key=b", "key=UP%2F1&x=%2F&key=UP%2F1"},
		{"k%65y=local&keys=1", "k%65y=UP%2F1&keys=1"},
		{"key&b=2", "key=UP%2F1&b=2"},
		{"a=1", "a=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, replaceQueryValue(tt.raw, "key", "UP/1"), tt.raw)
	}
}

func TestReadBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	body, err := readBody(r, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	replay, err := r.GetBody()
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, _ = replay.Read(buf)
	assert.Equal(t, "hello", string(buf))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello!"))
	r.ContentLength = -1
	_, err = readBody(r, 5)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.True(t, reqErr.TooLarge)
}

func TestRelativeTo(t *testing.T) {
	up, _ := url.Parse("https://api.example.com/base")
	tests := []struct {
		in, want string
	}{
		{"https://api.example.com/base/v1/x?y=1", "/v1/x?y=1"},
		{"https://API.example.com/other", "/other"},
		{"https://elsewhere.example.com/base/v1", "https://elsewhere.example.com/base/v1"},
		{"/already/relative", "/already/relative"},
		{"https://api.example.com", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTo(tt.in, up), tt.in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"canceled", context.Canceled, KindClientClosed},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindConnect},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindConnect},
		{"proxy", &net.OpError{Op: "proxyconnect", Err: errors.New("refused")}, KindProxy},
		{"tls", x509.UnknownAuthorityError{}, KindTLS},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, KindReset},
		{"other", errors.New("weird"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestHandleErrorStatus(t *testing.T) {
	resp := HandleError(&UpstreamError{Kind: KindTimeout, Host: "api", Cause: context.DeadlineExceeded})
	assert.Equal(t, http.StatusGatewayTimeout, resp.Error.HTTPStatusCode())

	resp = HandleError(&UpstreamError{Kind: KindTLS, Host: "api", Cause: errors.New("bad cert")})
	assert.Equal(t, http.StatusBadGateway, resp.Error.HTTPStatusCode())
	assert.Equal(t, "upstream_tls_error", resp.Error.Type)

	resp = HandleError(errors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, resp.Error.HTTPStatusCode())
}
