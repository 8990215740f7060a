// Package logging configures log/slog for the relay.
//
// New builds a JSON or text handler at the configured level. With Redact
// enabled, a Redactor is installed as ReplaceAttr: attributes named like
// credentials (api_key, authorization, proxy_password, ...) are replaced
// and key-shaped substrings (sk-..., Bearer ..., user:pass@ in URLs) are
// masked in every string value.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", Redact: true})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// FromContext adds the request id, tool id and session id carried by a
// request context.
package logging
