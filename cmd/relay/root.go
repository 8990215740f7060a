package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"duckcoding-hq/relay/pkg/cli"
	"duckcoding-hq/relay/pkg/config"
)

// defaultConfigFile is used when --config is not given. A missing default
// file means built-in defaults.
const defaultConfigFile = "relay.yaml"

var (
	// Global flags
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - per-session upstream routing for AI coding tools",
	Long: `Relay is a local intercepting proxy for AI coding tools.

Every tool gets its own local listener. Requests are attributed to a session,
routed to the upstream configured for that session (a named profile, a
session override or the tool's global default) and streamed back unchanged.

Sessions are kept in a local SQLite registry and can be listed, annotated,
re-routed and pruned while the relay runs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadEnvFile exports variables from a dotenv file without overriding the
// ones already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cli.NewConfigError("env-file", err.Error())
	}
	return nil
}

// loadConfig reads the configuration with RELAY_* overrides. The default
// file may be absent; an explicitly given one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_, statErr := os.Stat(cfgFile)
	if errors.Is(statErr, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err := config.LoadDefault()
		if err != nil {
			return nil, cli.NewConfigError("", err.Error())
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg, nil
}
