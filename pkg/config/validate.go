package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var toolIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

var authHeaders = map[string]bool{
	"x-api-key":      true,
	"authorization":  true,
	"x-goog-api-key": true,
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateTools(cfg)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSessions(&cfg.Sessions)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateAdmin(&cfg.Admin)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateTools(cfg *Config) []FieldError {
	var errs []FieldError

	if len(cfg.Tools) == 0 {
		return []FieldError{{Field: "tools", Message: "at least one tool must be configured"}}
	}

	ports := make(map[int]string)
	for name, tool := range cfg.Tools {
		field := "tools." + name

		if !toolIDPattern.MatchString(name) {
			errs = append(errs, FieldError{Field: field, Message: "tool id must be lowercase letters, digits and dashes"})
		}
		if tool.Port < 1 || tool.Port > 65535 {
			errs = append(errs, FieldError{Field: field + ".port", Message: "port must be between 1 and 65535"})
		} else if tool.IsEnabled() {
			if other, dup := ports[tool.Port]; dup {
				errs = append(errs, FieldError{Field: field + ".port", Message: fmt.Sprintf("port %d already used by %s", tool.Port, other)})
			}
			ports[tool.Port] = name
		}
		if !authHeaders[strings.ToLower(tool.AuthHeader)] {
			errs = append(errs, FieldError{Field: field + ".auth_header", Message: "must be x-api-key, authorization or x-goog-api-key"})
		}
		for i, h := range tool.SessionHeaders {
			if strings.TrimSpace(h) == "" {
				errs = append(errs, FieldError{Field: fmt.Sprintf("%s.session_headers[%d]", field, i), Message: "header name cannot be empty"})
			}
		}
	}

	if cfg.Admin.Enabled {
		if _, port, err := net.SplitHostPort(cfg.Admin.ListenAddress); err == nil {
			for p, name := range ports {
				if strconv.Itoa(p) == port {
					errs = append(errs, FieldError{Field: "admin.listen_address", Message: "port already used by tool " + name})
				}
			}
		}
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.GlobalConfigPath == "" {
		errs = append(errs, FieldError{Field: "upstream.global_config_path", Message: "global config path is required"})
	}
	if cfg.ConnectTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.connect_timeout", Message: "timeout cannot be negative"})
	}
	if cfg.TLSHandshakeTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.tls_handshake_timeout", Message: "timeout cannot be negative"})
	}
	if cfg.ResponseHeaderTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.response_header_timeout", Message: "timeout cannot be negative"})
	}
	if cfg.MaxIdleConns < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_idle_conns", Message: "cannot be negative"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "upstream.max_body_bytes", Message: "must be positive"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, FieldError{Field: "storage.driver", Message: fmt.Sprintf("unsupported driver %q (must be sqlite or sqlite3)", cfg.Driver)})
	}
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "storage.path", Message: "database path is required"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "timeout cannot be negative"})
	}
	if cfg.OperationTimeout <= 0 {
		errs = append(errs, FieldError{Field: "storage.operation_timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateSessions(cfg *SessionsConfig) []FieldError {
	var errs []FieldError

	if cfg.ActivityBuffer < 1 {
		errs = append(errs, FieldError{Field: "sessions.activity_buffer", Message: "buffer must be at least 1"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "sessions.write_timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxCount < 1 {
		errs = append(errs, FieldError{Field: "retention.max_count", Message: "must be at least 1"})
	}
	if cfg.MaxAgeDays < 1 {
		errs = append(errs, FieldError{Field: "retention.max_age_days", Message: "must be at least 1"})
	}
	if cfg.Enabled && cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "retention.schedule", Message: fmt.Sprintf("invalid schedule: %v", err)})
		}
	}

	return errs
}

func validateAdmin(cfg *AdminConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "admin.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("invalid level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("invalid format %q", cfg.Logging.Format)})
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
		}
		prev := 0.0
		for i, b := range cfg.Metrics.RequestDurationBuckets {
			if b <= prev {
				errs = append(errs, FieldError{Field: fmt.Sprintf("telemetry.metrics.request_duration_buckets[%d]", i), Message: "buckets must be positive and increasing"})
				break
			}
			prev = b
		}
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
			}
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler)})
		}
		if _, _, err := net.SplitHostPort(cfg.Tracing.Endpoint); err != nil {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: fmt.Sprintf("invalid address: %v", err)})
		}
	}

	return errs
}
