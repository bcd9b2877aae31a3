// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modhaven/modhaven/extensions/cachecleaner"
	eventbus "github.com/modhaven/modhaven/internal/event"
	hostext "github.com/modhaven/modhaven/internal/extension"
	"github.com/modhaven/modhaven/internal/extension/luaext"
	"github.com/modhaven/modhaven/internal/logging"
	hostmsg "github.com/modhaven/modhaven/internal/message"
	modsrt "github.com/modhaven/modhaven/internal/mods"
	"github.com/modhaven/modhaven/internal/observability"
	"github.com/modhaven/modhaven/internal/platform"
	"github.com/modhaven/modhaven/internal/settings"
	"github.com/modhaven/modhaven/internal/store"
	"github.com/modhaven/modhaven/internal/xdg"
	"github.com/modhaven/modhaven/pkg/errutil"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/service"
)

// shutdownGrace bounds how long graceful shutdown may take.
const shutdownGrace = 15 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ModHaven host process",
		Long: `Start the host process: open the catalog, discover and
initialize extension packages, and serve until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := settings.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg)
		},
	}
	settings.RegisterFlags(cmd.Flags())
	return cmd
}

// builtinFactories returns the factory set for compiled-in extensions.
func builtinFactories() (*extension.FactorySet, error) {
	factories := extension.NewFactorySet()
	if err := factories.Register("cachecleaner", cachecleaner.New); err != nil {
		return nil, err
	}
	return factories, nil
}

func runHost(ctx context.Context, cfg *settings.Settings) error {
	logging.SetDefault("modhaven", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	logger := slog.Default()

	for _, dir := range []string{cfg.DataDir, cfg.ModsDir, cfg.ExtensionsDir} {
		if err := xdg.EnsureDir(dir); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog storage.
	st, err := store.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	migrator, err := store.NewMigrator(st.DB())
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}
	if err := migrator.Close(); err != nil {
		errutil.LogWarn(logger, "failed to close migrator", err)
	}

	// Runtime core.
	bus := eventbus.NewBus(logger)
	registry := hostext.NewRegistry(logger, bus)
	svcReg := service.NewRegistry()

	files := platform.NewFiles()
	launcher := platform.NewLauncher(logger)
	modsService := modsrt.NewService(st.Mods(), st.Classifications(), files, bus, cfg.ModsDir, logger)

	factories, err := builtinFactories()
	if err != nil {
		return err
	}

	loader := hostext.NewLoader(
		cfg.ExtensionsDir,
		factories,
		hostext.HostServices{
			Mods:            st.Mods(),
			Classifications: st.Classifications(),
			Files:           files,
			Launcher:        launcher,
			Logger:          logger,
			DataRoot:        cfg.DataDir,
		},
		svcReg,
		registry,
		bus,
		logger,
		hostext.WithLuaHost(luaext.NewHost(logger)),
		hostext.WithLifecycleTimeout(cfg.LifecycleTimeout),
	)
	if err := loader.Load(ctx); err != nil {
		return err
	}
	observability.SetLoadedExtensions(registry.Count())

	// Message routing.
	dispatcher := hostmsg.NewDispatcher(logger)
	if err := dispatcher.RegisterModule("extensions", hostext.NewModule(registry)); err != nil {
		return err
	}
	if err := dispatcher.RegisterModule("mods", modsrt.NewModule(modsService)); err != nil {
		return err
	}
	dispatcher.SetExtensionResolver(registry)

	// Mods directory watcher.
	var watcher *modsrt.Watcher
	if cfg.WatchMods {
		watcher = modsrt.NewWatcher(modsService, cfg.ModsDir, logger)
		if err := watcher.Start(ctx); err != nil {
			errutil.LogWarn(logger, "mods watcher unavailable", err)
			watcher = nil
		}
	}

	// Metrics and health endpoints.
	var obs *observability.Server
	var obsErr <-chan error
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, func() bool {
			return loader.State() == hostext.StateRunning
		})
		obsErr, err = obs.Start()
		if err != nil {
			return err
		}
	}

	logger.Info("modhaven host running",
		"extensions", registry.Count(),
		"mods_dir", cfg.ModsDir,
		"metrics_addr", cfg.MetricsAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-obsErr:
		errutil.LogError(logger, "observability server failed", err)
	}

	// Graceful shutdown. Extensions get the lifecycle timeout each, the
	// whole sequence is bounded by shutdownGrace.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if watcher != nil {
		watcher.Stop()
	}
	loader.Shutdown(shutdownCtx)
	observability.SetLoadedExtensions(0)
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(logger, "observability server stop failed", err)
		}
	}
	bus.Close()

	logger.Info("modhaven host stopped")
	return nil
}
