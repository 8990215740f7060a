package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"duckcoding-hq/relay/pkg/admin"
	"duckcoding-hq/relay/pkg/cli"
	"duckcoding-hq/relay/pkg/config"
	"duckcoding-hq/relay/pkg/netproxy"
	"duckcoding-hq/relay/pkg/proxy"
	"duckcoding-hq/relay/pkg/route"
	"duckcoding-hq/relay/pkg/server"
	"duckcoding-hq/relay/pkg/session"
	"duckcoding-hq/relay/pkg/session/retention"
	"duckcoding-hq/relay/pkg/session/storage"
	"duckcoding-hq/relay/pkg/telemetry/health"
	"duckcoding-hq/relay/pkg/telemetry/logging"
	"duckcoding-hq/relay/pkg/telemetry/metrics"
	"duckcoding-hq/relay/pkg/telemetry/tracing"
	"duckcoding-hq/relay/pkg/upstream"
)

var runFlags struct {
	logLevel string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay",
	Long: `Start the per-tool proxy listeners and the management API.

The relay reads the global configuration file for upstream defaults, named
profiles and the network proxy, and reloads it when it changes or on SIGHUP.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config ~/.duckcoding/relay.yaml

  # Validate config without starting
  relay run --dry-run`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Redact:    cfg.Telemetry.Logging.Redact,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(contextOrBackground(cmd.Context()))
	defer stop()

	fmt.Fprintf(out, "Relay v%s\n", Version)

	store, err := storage.NewSQLiteStore(&storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		WALMode:     cfg.Storage.WALMode,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer store.Close()
	fmt.Fprintf(out, "✓ Session store opened (%s)\n", cfg.Storage.Path)

	globals, err := upstream.NewFileSource(cfg.Upstream.GlobalConfigPath)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer globals.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)

	manager := session.NewManager(store, route.NewResolver(globals, globals), session.Options{
		Tools:           enabledTools(cfg),
		ActivityBuffer:  cfg.Sessions.ActivityBuffer,
		WriteTimeout:    cfg.Sessions.WriteTimeout,
		MaxCachedRoutes: cfg.Sessions.MaxCachedRoutes,
		ReadTimeout:     cfg.Storage.OperationTimeout,
		Observer:        collector,
	})
	defer manager.Close()

	provider, err := netproxy.NewProvider(nil, transportOptions(&cfg.Upstream))
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	applier := netproxy.NewApplier(provider, func() *netproxy.Settings {
		if g := globals.Snapshot(); g != nil {
			return &g.Settings
		}
		return nil
	}, cfg.Upstream.ApplyEnv)
	if _, err := applier.Apply(); err != nil {
		logger.Warn("network proxy not applied, connecting directly", "error", err)
	}

	globals.OnChange(func(*upstream.GlobalConfig) {
		if _, err := applier.Apply(); err != nil {
			logger.Warn("network proxy not applied after reload", "error", err)
		}
		manager.InvalidateAll()
	})
	if cfg.Upstream.Watch {
		if err := globals.Watch(); err != nil {
			logger.Warn("global config watch unavailable, use SIGHUP to reload", "error", err)
		}
	}
	fmt.Fprintf(out, "✓ Global config loaded (%s)\n", globals.Path())

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace export incomplete", "error", err)
		}
	}()
	if tracer.Enabled() {
		fmt.Fprintf(out, "✓ Tracing to %s\n", cfg.Telemetry.Tracing.Endpoint)
	}

	supervisor := server.NewSupervisor(cfg.Server, cfg.Tools, handlerFactory(cfg, manager, provider, collector, tracer, logger), logger)

	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}
	checker := health.New(cfg.Admin.HealthTimeout, Version)
	checker.RegisterCheck("store", store.Ping)
	checker.RegisterCheck("global_config", func(context.Context) error {
		if globals.Snapshot() == nil {
			return errors.New("global config not loaded")
		}
		return nil
	})

	api := admin.New(admin.Options{
		Health:      checker,
		Sessions:    manager,
		Proxies:     supervisor,
		Network:     applier,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Token:       cfg.Admin.Token,
		MaxCount:    cfg.Retention.MaxCount,
		MaxAgeDays:  cfg.Retention.MaxAgeDays,
		Logger:      logger,
	})
	adminSrv := admin.NewServer(&cfg.Admin, &cfg.Server, api, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return adminSrv.Run(gctx) })

	if cfg.Retention.Enabled {
		pruner := retention.NewPruner(manager, &retention.Config{
			MaxCount:   cfg.Retention.MaxCount,
			MaxAgeDays: cfg.Retention.MaxAgeDays,
			Schedule:   cfg.Retention.Schedule,
			RunOnStart: cfg.Retention.RunOnStart,
		})
		g.Go(func() error {
			if err := pruner.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			pruner.Stop()
			return nil
		})
	}

	g.Go(func() error {
		reload, stopReload := cli.ReloadSignals()
		defer stopReload()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reload:
				if err := globals.Reload(); err != nil {
					logger.Error("global config reload failed", "path", globals.Path(), "error", err)
				}
			}
		}
	})

	if addr := adminSrv.Addr(); addr != "" {
		fmt.Fprintf(out, "✓ Management API: http://%s\n", addr)
	}
	for _, st := range supervisor.Status() {
		if st.Enabled {
			fmt.Fprintf(out, "✓ %s proxy on %s\n", st.ToolID, st.Address)
		}
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Relay stopped")
	return nil
}

func handlerFactory(cfg *config.Config, sessions proxy.SessionService, transport http.RoundTripper, recorder proxy.Recorder, tracer *tracing.Tracer, logger *slog.Logger) server.HandlerFactory {
	return func(toolID string, tool config.ToolConfig) http.Handler {
		h := proxy.NewHandler(proxy.HandlerConfig{
			ToolID:         toolID,
			LocalAPIKey:    tool.LocalAPIKey,
			AuthHeader:     tool.AuthHeader,
			SessionHeaders: tool.SessionHeaders,
			MaxBodyBytes:   cfg.Upstream.MaxBodyBytes,
		}, sessions, transport, recorder, logger)
		return tracing.Middleware(tracer, toolID)(h)
	}
}

func transportOptions(cfg *config.UpstreamConfig) netproxy.TransportOptions {
	return netproxy.TransportOptions{
		ConnectTimeout:        cfg.ConnectTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
	}
}

func enabledTools(cfg *config.Config) []string {
	tools := make([]string, 0, len(cfg.Tools))
	for id, t := range cfg.Tools {
		if t.IsEnabled() {
			tools = append(tools, id)
		}
	}
	sort.Strings(tools)
	return tools
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
