package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces a sensitive attribute value.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"api_key":        true,
	"apikey":         true,
	"x-api-key":      true,
	"x-goog-api-key": true,
	"authorization":  true,
	"local_api_key":  true,
	"token":          true,
	"system_token":   true,
	"password":       true,
	"proxy_password": true,
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Redactor masks credentials in log attributes.
type Redactor struct {
	patterns []redactPattern
}

// NewRedactor creates a Redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			// Anthropic / OpenAI style keys
			{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{6,}`), "sk-***"},
			// Google API keys
			{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`), "AIza***"},
			{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/_]+=*`), "Bearer ***"},
			// Credentials in URLs
			{regexp.MustCompile(`(://[^:/@\s]+):[^@/\s]+@`), "$1:***@"},
			// key= query parameters
			{regexp.MustCompile(`([?&]key=)[^&\s]+`), "${1}***"},
		},
	}
}

// Redact masks credentials inside s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, Redacted)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.Redact(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.Redact(err.Error()))
		}
	}
	return a
}
