package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration structure of the relay.
type Config struct {
	// Tools maps a tool id ("claude-code", "codex", "gemini-cli") to its
	// local listener.
	Tools map[string]ToolConfig `yaml:"tools"`

	// Upstream contains the global config file location and the upstream
	// transport timeouts.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Storage contains the session database settings.
	Storage StorageConfig `yaml:"storage"`

	// Sessions contains the session manager settings.
	Sessions SessionsConfig `yaml:"sessions"`

	// Retention bounds the session registry.
	Retention RetentionConfig `yaml:"retention"`

	// Server contains timeouts shared by all listeners.
	Server ServerConfig `yaml:"server"`

	// Admin contains the management API settings.
	Admin AdminConfig `yaml:"admin"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ToolConfig configures the local listener of one tool.
type ToolConfig struct {
	// Enabled starts the listener with the relay. Unset means enabled.
	Enabled *bool `yaml:"enabled"`

	// Port is the local port the tool is pointed at.
	// Default: 8787 (claude-code), 8788 (codex), 8789 (gemini-cli)
	Port int `yaml:"port"`

	// AllowPublic binds on all interfaces instead of loopback.
	// Default: false
	AllowPublic bool `yaml:"allow_public"`

	// LocalAPIKey is the protection key clients must present as their API
	// key. Empty disables the check.
	LocalAPIKey string `yaml:"local_api_key"`

	// AuthHeader is where the upstream credential goes when the client sent
	// none: "x-api-key", "authorization" or "x-goog-api-key".
	AuthHeader string `yaml:"auth_header"`

	// SessionHeaders are request headers carrying a client session token,
	// checked in order.
	SessionHeaders []string `yaml:"session_headers"`
}

// IsEnabled reports whether the listener should start.
func (t ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// ListenAddress returns the host:port the tool listener binds to.
func (t ToolConfig) ListenAddress() string {
	host := "127.0.0.1"
	if t.AllowPublic {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(t.Port))
}

// UpstreamConfig configures upstream access.
type UpstreamConfig struct {
	// GlobalConfigPath is the JSON file holding upstreams, profiles and the
	// network proxy.
	// Default: "~/.duckcoding/config.json"
	GlobalConfigPath string `yaml:"global_config_path"`

	// Watch reloads the global config file when it changes.
	// Default: true
	Watch bool `yaml:"watch"`

	// ApplyEnv exports the network proxy as HTTP(S)_PROXY/ALL_PROXY.
	// Default: false
	ApplyEnv bool `yaml:"apply_env"`

	// ConnectTimeout bounds TCP connects to the upstream or network proxy.
	// Default: 30s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TLSHandshakeTimeout bounds TLS handshakes with the upstream.
	// Default: 10s
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`

	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// 0 means no limit.
	// Default: 0
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// IdleConnTimeout is how long idle upstream connections are kept.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`

	// MaxIdleConns caps idle upstream connections.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxBodyBytes caps request bodies read by the proxy.
	// Default: 32 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StorageConfig configures the session database.
type StorageConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file.
	// Default: "~/.duckcoding/sessions.db"
	Path string `yaml:"path"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long a statement waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// OperationTimeout bounds store reads on the request path.
	// Default: 2s
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// SessionsConfig configures the session manager.
type SessionsConfig struct {
	// ActivityBuffer is the capacity of the activity queue.
	// Default: 1024
	ActivityBuffer int `yaml:"activity_buffer"`

	// WriteTimeout bounds one activity write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxCachedRoutes caps the in-memory route cache, which is flushed when
	// it fills up.
	// Default: 10000
	MaxCachedRoutes int `yaml:"max_cached_routes"`
}

// RetentionConfig configures session pruning.
type RetentionConfig struct {
	// Enabled runs the retention scheduler.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// MaxCount is the number of sessions kept per tool.
	// Default: 1000
	MaxCount int `yaml:"max_count"`

	// MaxAgeDays removes sessions idle for longer.
	// Default: 30
	MaxAgeDays int `yaml:"max_age_days"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1h"
	Schedule string `yaml:"schedule"`

	// RunOnStart prunes once at startup.
	// Default: true
	RunOnStart bool `yaml:"run_on_start"`
}

// ServerConfig contains listener settings shared by all servers.
type ServerConfig struct {
	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout closes idle keep-alive client connections.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size.
	// Default: 1 MiB
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// AdminConfig configures the management API.
type AdminConfig struct {
	// Enabled starts the management API.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the management API address.
	// Default: "127.0.0.1:8790"
	ListenAddress string `yaml:"listen_address"`

	// Token, when set, must be presented as a bearer token.
	Token string `yaml:"token"`

	// HealthTimeout bounds each /health check.
	// Default: 2s
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource adds file:line to records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact masks credentials in log attributes.
	// Default: true
	Redact bool `yaml:"redact"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path on the management server.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "relay"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for request duration
	// in seconds.
	// Default: [0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig configures OpenTelemetry spans for proxied requests.
type TracingConfig struct {
	// Enabled exports one server span per proxied request.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces kept when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// ServiceName is the service.name resource attribute.
	// Default: "relay"
	ServiceName string `yaml:"service_name"`

	// Timeout bounds one export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
