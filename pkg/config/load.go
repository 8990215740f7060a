package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "RELAY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, expands "~" in paths and validates the result.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}

	if err := finalize(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_STORAGE_PATH) and always take
// precedence over the file.
//
// The loading sequence is:
// 1. Start from the defaults
// 2. Decode YAML from file on top
// 3. Apply environment variable overrides
// 4. Expand paths and validate
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := finalize(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadDefault returns the default configuration with environment variable
// overrides applied. It is used when no configuration file exists.
func LoadDefault() (*Config, error) {
	cfg := NewDefault()
	applyEnvOverrides(cfg)

	if err := finalize(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

func finalize(cfg *Config) error {
	ApplyDefaults(cfg)

	var err error
	if cfg.Upstream.GlobalConfigPath, err = ExpandHome(cfg.Upstream.GlobalConfigPath); err != nil {
		return err
	}
	if cfg.Storage.Path, err = ExpandHome(cfg.Storage.Path); err != nil {
		return err
	}

	return Validate(cfg)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// EnvKey returns the environment variable name for a dotted section path,
// e.g. "tools.claude-code.port" becomes RELAY_TOOLS_CLAUDE_CODE_PORT.
func EnvKey(parts ...string) string {
	key := strings.ToUpper(strings.Join(parts, "_"))
	key = strings.NewReplacer("-", "_", ".", "_").Replace(key)
	return EnvPrefix + key
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Tool overrides
	for name, tool := range cfg.Tools {
		envBool(EnvKey("tools", name, "enabled"), func(v bool) { tool.Enabled = &v })
		envInt(EnvKey("tools", name, "port"), &tool.Port)
		envBool(EnvKey("tools", name, "allow_public"), func(v bool) { tool.AllowPublic = v })
		envString(EnvKey("tools", name, "local_api_key"), &tool.LocalAPIKey)
		envString(EnvKey("tools", name, "auth_header"), &tool.AuthHeader)
		if val := os.Getenv(EnvKey("tools", name, "session_headers")); val != "" {
			tool.SessionHeaders = splitList(val)
		}
		cfg.Tools[name] = tool
	}

	// Upstream overrides
	envString("RELAY_UPSTREAM_GLOBAL_CONFIG_PATH", &cfg.Upstream.GlobalConfigPath)
	envBool("RELAY_UPSTREAM_WATCH", func(v bool) { cfg.Upstream.Watch = v })
	envBool("RELAY_UPSTREAM_APPLY_ENV", func(v bool) { cfg.Upstream.ApplyEnv = v })
	envDuration("RELAY_UPSTREAM_CONNECT_TIMEOUT", &cfg.Upstream.ConnectTimeout)
	envDuration("RELAY_UPSTREAM_TLS_HANDSHAKE_TIMEOUT", &cfg.Upstream.TLSHandshakeTimeout)
	envDuration("RELAY_UPSTREAM_RESPONSE_HEADER_TIMEOUT", &cfg.Upstream.ResponseHeaderTimeout)
	envDuration("RELAY_UPSTREAM_IDLE_CONN_TIMEOUT", &cfg.Upstream.IdleConnTimeout)
	envInt("RELAY_UPSTREAM_MAX_IDLE_CONNS", &cfg.Upstream.MaxIdleConns)
	if val := os.Getenv("RELAY_UPSTREAM_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Upstream.MaxBodyBytes = n
		}
	}

	// Storage overrides
	envString("RELAY_STORAGE_DRIVER", &cfg.Storage.Driver)
	envString("RELAY_STORAGE_PATH", &cfg.Storage.Path)
	envBool("RELAY_STORAGE_WAL_MODE", func(v bool) { cfg.Storage.WALMode = v })
	envDuration("RELAY_STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	envDuration("RELAY_STORAGE_OPERATION_TIMEOUT", &cfg.Storage.OperationTimeout)

	// Session manager overrides
	envInt("RELAY_SESSIONS_ACTIVITY_BUFFER", &cfg.Sessions.ActivityBuffer)
	envDuration("RELAY_SESSIONS_WRITE_TIMEOUT", &cfg.Sessions.WriteTimeout)
	envInt("RELAY_SESSIONS_MAX_CACHED_ROUTES", &cfg.Sessions.MaxCachedRoutes)

	// Retention overrides
	envBool("RELAY_RETENTION_ENABLED", func(v bool) { cfg.Retention.Enabled = v })
	envInt("RELAY_RETENTION_MAX_COUNT", &cfg.Retention.MaxCount)
	envInt("RELAY_RETENTION_MAX_AGE_DAYS", &cfg.Retention.MaxAgeDays)
	envString("RELAY_RETENTION_SCHEDULE", &cfg.Retention.Schedule)
	envBool("RELAY_RETENTION_RUN_ON_START", func(v bool) { cfg.Retention.RunOnStart = v })

	// Server overrides
	envDuration("RELAY_SERVER_READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout)
	envDuration("RELAY_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("RELAY_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Admin overrides
	envBool("RELAY_ADMIN_ENABLED", func(v bool) { cfg.Admin.Enabled = v })
	envString("RELAY_ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)
	envString("RELAY_ADMIN_TOKEN", &cfg.Admin.Token)
	envDuration("RELAY_ADMIN_HEALTH_TIMEOUT", &cfg.Admin.HealthTimeout)

	// Telemetry overrides
	envString("RELAY_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("RELAY_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("RELAY_TELEMETRY_LOGGING_ADD_SOURCE", func(v bool) { cfg.Telemetry.Logging.AddSource = v })
	envBool("RELAY_TELEMETRY_LOGGING_REDACT", func(v bool) { cfg.Telemetry.Logging.Redact = v })
	envBool("RELAY_TELEMETRY_METRICS_ENABLED", func(v bool) { cfg.Telemetry.Metrics.Enabled = v })
	envString("RELAY_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envString("RELAY_TELEMETRY_METRICS_NAMESPACE", &cfg.Telemetry.Metrics.Namespace)
	envBool("RELAY_TELEMETRY_TRACING_ENABLED", func(v bool) { cfg.Telemetry.Tracing.Enabled = v })
	envString("RELAY_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("RELAY_TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, set func(bool)) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			set(b)
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
