// Package config provides configuration management for the relay.
//
// Configuration is read from a YAML file, layered over built-in defaults and
// finally over environment variables.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("relay.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
//  3. Without a file:
//     cfg, err := config.LoadDefault()
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD:
//
//   - RELAY_STORAGE_PATH overrides storage.path
//   - RELAY_TOOLS_CLAUDE_CODE_PORT overrides tools.claude-code.port
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Paths starting with "~" are expanded to the user's home directory after
// overrides are applied.
package config
