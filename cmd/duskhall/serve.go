// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskhall/duskhall/internal/config"
	"github.com/duskhall/duskhall/internal/eventbus"
	"github.com/duskhall/duskhall/internal/logging"
	"github.com/duskhall/duskhall/internal/observability"
	"github.com/duskhall/duskhall/internal/plugin"
	"github.com/duskhall/duskhall/internal/plugin/native"
	"github.com/duskhall/duskhall/internal/plugin/process"
	"github.com/duskhall/duskhall/internal/plugin/script"
	"github.com/duskhall/duskhall/internal/registry"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		Long: `Discover plugins in the configured directories, resolve their
dependencies, load them, and serve until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().StringSlice("plugin-dirs", nil, "directories scanned for plugin manifests")
	cmd.Flags().String("profile", config.DefaultProfile, "host profile plugins are loaded for")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logging.SetDefault("duskhall", version, cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting plugin host",
		"profile", cfg.Profile,
		"plugin_dirs", cfg.PluginDirs,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := registry.New()
	bus := eventbus.New(eventbus.WithLogger(slog.Default()))

	var ready atomic.Bool

	var obsServer *observability.Server
	loaderOpts := []plugin.LoaderOption{
		plugin.WithLogger(slog.Default()),
		plugin.WithPluginConfigs(cfg.Plugins),
		plugin.WithBoundaryFactory(plugin.StrategyNative, native.NewFactory()),
		plugin.WithBoundaryFactory(plugin.StrategyProcess, process.NewFactory()),
		plugin.WithBoundaryFactory(plugin.StrategyScript, script.NewFactory()),
	}

	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready.Load)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		loaderOpts = append(loaderOpts, plugin.WithMetrics(obsServer.Metrics()))
	}

	loader := plugin.NewLoader(reg, bus, loaderOpts...)

	report, err := loader.DiscoverAndLoad(ctx, cfg.PluginDirs, cfg.Profile)
	if err != nil {
		stopObservability(obsServer)
		return fmt.Errorf("plugin loading failed: %w", err)
	}
	logReport(report)
	ready.Store(true)

	cmd.Println("Plugin host started")
	slog.Info("plugin host ready",
		"loaded", len(report.Loaded),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := loader.Close(shutdownCtx); err != nil {
		slog.Warn("error unloading plugins", "error", err)
	}

	stopObservability(obsServer)

	slog.Info("shutdown complete")
	return nil
}

// logReport logs the outcome of a load batch, one line per plugin.
func logReport(report *plugin.Report) {
	for _, id := range report.Loaded {
		slog.Info("plugin started", "plugin", id)
	}
	for id, err := range report.Failed {
		slog.Error("plugin failed to load", "plugin", id, "error", err)
	}
	for id, reason := range report.Skipped {
		slog.Warn("plugin skipped", "plugin", id, "reason", reason)
	}
}

func stopObservability(s *observability.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels the context when a server reports a
// failure. It exits when an error arrives, the channel closes, or the
// context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
