package config

import "time"

// Default values for configuration fields.
const (
	// Tool ids
	ToolClaudeCode = "claude-code"
	ToolCodex      = "codex"
	ToolGeminiCLI  = "gemini-cli"

	// Upstream defaults
	DefaultGlobalConfigPath      = "~/.duckcoding/config.json"
	DefaultUpstreamWatch         = true
	DefaultConnectTimeout        = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = time.Duration(0)
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultMaxIdleConns          = 100
	DefaultMaxBodyBytes          = int64(32 << 20) // 32MB

	// Storage defaults
	DefaultStorageDriver           = "sqlite"
	DefaultStoragePath             = "~/.duckcoding/sessions.db"
	DefaultStorageWALMode          = true
	DefaultStorageBusyTimeout      = 5 * time.Second
	DefaultStorageOperationTimeout = 2 * time.Second

	// Session manager defaults
	DefaultActivityBuffer  = 1024
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxCachedRoutes = 10000

	// Retention defaults
	DefaultRetentionEnabled    = true
	DefaultRetentionMaxCount   = 1000
	DefaultRetentionMaxAgeDays = 30
	DefaultRetentionSchedule   = "@every 1h"
	DefaultRetentionRunOnStart = true

	// Server defaults
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1048576 // 1MB

	// Admin defaults
	DefaultAdminEnabled       = true
	DefaultAdminListenAddress = "127.0.0.1:8790"
	DefaultHealthTimeout      = 2 * time.Second

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultLogRedact        = true
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "relay"

	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingInsecure    = true
	DefaultTracingServiceName = "relay"
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultRequestDurationBuckets are the default histogram buckets for proxied
// request duration. Streaming completions routinely run for minutes.
var DefaultRequestDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// toolDefaults holds the per-tool listener defaults of the known tools.
var toolDefaults = map[string]ToolConfig{
	ToolClaudeCode: {
		Port:           8787,
		AuthHeader:     "x-api-key",
		SessionHeaders: []string{"X-Claude-Code-Session-Id", "X-Session-Id"},
	},
	ToolCodex: {
		Port:           8788,
		AuthHeader:     "authorization",
		SessionHeaders: []string{"Session_id", "X-Session-Id"},
	},
	ToolGeminiCLI: {
		Port:           8789,
		AuthHeader:     "x-goog-api-key",
		SessionHeaders: []string{"X-Session-Id"},
	},
}

// KnownTools returns the tool ids that have built-in defaults.
func KnownTools() []string {
	return []string{ToolClaudeCode, ToolCodex, ToolGeminiCLI}
}

// NewDefault returns a configuration with every default applied. YAML files
// are decoded on top of it so that booleans explicitly set to false survive.
func NewDefault() *Config {
	cfg := &Config{
		Upstream: UpstreamConfig{
			Watch: DefaultUpstreamWatch,
		},
		Storage: StorageConfig{
			WALMode: DefaultStorageWALMode,
		},
		Retention: RetentionConfig{
			Enabled:    DefaultRetentionEnabled,
			RunOnStart: DefaultRetentionRunOnStart,
		},
		Admin: AdminConfig{
			Enabled: DefaultAdminEnabled,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{Redact: DefaultLogRedact},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{Insecure: DefaultTracingInsecure},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyToolDefaults(cfg)

	// Upstream defaults
	if cfg.Upstream.GlobalConfigPath == "" {
		cfg.Upstream.GlobalConfigPath = DefaultGlobalConfigPath
	}
	if cfg.Upstream.ConnectTimeout == 0 {
		cfg.Upstream.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Upstream.TLSHandshakeTimeout == 0 {
		cfg.Upstream.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if cfg.Upstream.IdleConnTimeout == 0 {
		cfg.Upstream.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.Upstream.MaxBodyBytes == 0 {
		cfg.Upstream.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.Storage.OperationTimeout == 0 {
		cfg.Storage.OperationTimeout = DefaultStorageOperationTimeout
	}

	// Session manager defaults
	if cfg.Sessions.ActivityBuffer == 0 {
		cfg.Sessions.ActivityBuffer = DefaultActivityBuffer
	}
	if cfg.Sessions.WriteTimeout == 0 {
		cfg.Sessions.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Sessions.MaxCachedRoutes == 0 {
		cfg.Sessions.MaxCachedRoutes = DefaultMaxCachedRoutes
	}

	// Retention defaults
	if cfg.Retention.MaxCount == 0 {
		cfg.Retention.MaxCount = DefaultRetentionMaxCount
	}
	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = DefaultRetentionMaxAgeDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	// Server defaults
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Admin defaults
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultAdminListenAddress
	}
	if cfg.Admin.HealthTimeout == 0 {
		cfg.Admin.HealthTimeout = DefaultHealthTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
		if cfg.Telemetry.Tracing.SampleRatio == 0 {
			cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
		}
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if len(cfg.Telemetry.Metrics.RequestDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
}

// applyToolDefaults registers the known tools when none are configured and
// completes the listener fields of known tools.
func applyToolDefaults(cfg *Config) {
	if len(cfg.Tools) == 0 {
		cfg.Tools = make(map[string]ToolConfig, len(toolDefaults))
		for name, def := range toolDefaults {
			def.SessionHeaders = append([]string(nil), def.SessionHeaders...)
			cfg.Tools[name] = def
		}
		return
	}

	for name, tool := range cfg.Tools {
		def, known := toolDefaults[name]
		if !known {
			continue
		}
		if tool.Port == 0 {
			tool.Port = def.Port
		}
		if tool.AuthHeader == "" {
			tool.AuthHeader = def.AuthHeader
		}
		if len(tool.SessionHeaders) == 0 {
			tool.SessionHeaders = append([]string(nil), def.SessionHeaders...)
		}
		cfg.Tools[name] = tool
	}
}
