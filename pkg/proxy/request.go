package proxy

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// credLocation is a place a client may carry its API key.
type credLocation uint8

const (
	credXAPIKey credLocation = 1 << iota
	credAuthorization
	credGoogAPIKey
	credQueryKey
)

const (
	headerXAPIKey     = "X-Api-Key"
	headerGoogAPIKey  = "X-Goog-Api-Key"
	headerAuth        = "Authorization"
	queryKey          = "key"
	bearerPrefix      = "Bearer "
	maxSniffBodyBytes = 8 << 20
)

// clientCredential reports every location the client populated and the
// first key found, checked in order x-api-key, Authorization,
// x-goog-api-key, key query parameter.
func clientCredential(r *http.Request) (credLocation, string) {
	var (
		locs credLocation
		key  string
	)
	take := func(loc credLocation, v string) {
		if v == "" {
			return
		}
		locs |= loc
		if key == "" {
			key = v
		}
	}

	take(credXAPIKey, r.Header.Get(headerXAPIKey))
	if auth := r.Header.Get(headerAuth); auth != "" {
		take(credAuthorization, bearerToken(auth))
	}
	take(credGoogAPIKey, r.Header.Get(headerGoogAPIKey))
	take(credQueryKey, r.URL.Query().Get(queryKey))

	return locs, key
}

func bearerToken(v string) string {
	if len(v) > len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	return strings.TrimSpace(v)
}

func keyMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// setCredential writes key into every location the client used. When the
// client sent no credential, authHeader decides where it goes.
func setCredential(out *http.Request, locs credLocation, authHeader, key string) {
	if locs == 0 {
		switch strings.ToLower(authHeader) {
		case "authorization":
			locs = credAuthorization
		case "x-goog-api-key":
			locs = credGoogAPIKey
		default:
			locs = credXAPIKey
		}
	}

	if locs&credXAPIKey != 0 {
		out.Header.Set(headerXAPIKey, key)
	}
	if locs&credAuthorization != 0 {
		out.Header.Set(headerAuth, bearerPrefix+key)
	}
	if locs&credGoogAPIKey != 0 {
		out.Header.Set(headerGoogAPIKey, key)
	}
	if locs&credQueryKey != 0 {
		out.URL.RawQuery = replaceQueryValue(out.URL.RawQuery, queryKey, key)
	}
}

// replaceQueryValue sets every name= segment of a raw query to value and
// leaves the other segments, their order and their escaping untouched.
func replaceQueryValue(rawQuery, name, value string) string {
	segs := strings.Split(rawQuery, "&")
	for i, seg := range segs {
		k, _, _ := strings.Cut(seg, "=")
		if uk, err := url.QueryUnescape(k); err == nil && uk == name {
			segs[i] = k + "=" + url.QueryEscape(value)
		}
	}
	return strings.Join(segs, "&")
}

// readBody reads the request body up to limit bytes and replaces r.Body with
// a replayable reader.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > limit {
		return nil, &RequestError{
			Message:  fmt.Sprintf("request body of %d bytes exceeds the %d byte limit", r.ContentLength, limit),
			TooLarge: true,
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("failed to read request body: %v", err)}
	}
	if int64(len(body)) > limit {
		return nil, &RequestError{
			Message:  fmt.Sprintf("request body exceeds the %d byte limit", limit),
			TooLarge: true,
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}

// requestMetadata is the part of a JSON request body used for identification.
type requestMetadata struct {
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

// sniffUserID extracts metadata.user_id from a JSON body. Bodies that are
// not JSON objects yield "".
func sniffUserID(body []byte, contentType string) string {
	if len(body) == 0 || len(body) > maxSniffBodyBytes {
		return ""
	}
	if ct := strings.ToLower(contentType); ct != "" && !strings.Contains(ct, "json") {
		return ""
	}
	if trimmed := bytes.TrimLeft(body, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}

	var md requestMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return ""
	}
	return md.Metadata.UserID
}

// headerToken returns the first non-empty value of the configured session
// headers.
func headerToken(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// relativeTo strips scheme and host from raw when it points at upstream.
func relativeTo(raw string, upstream *url.URL) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || !strings.EqualFold(u.Host, upstream.Host) {
		return raw
	}
	rel := u.EscapedPath()
	if base := strings.TrimSuffix(upstream.EscapedPath(), "/"); base != "" && strings.HasPrefix(rel, base+"/") {
		rel = strings.TrimPrefix(rel, base)
	}
	if rel == "" {
		rel = "/"
	}
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rel += "#" + u.EscapedFragment()
	}
	return rel
}
