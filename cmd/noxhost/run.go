package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxhost/internal/domain/host"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the plugin host",
	Long: `Run discovers and loads every valid plugin package in the plugin
directory, starts the background agent, and serves until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()

		cfg, agentCfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manager, err := host.NewManager(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = manager.Close(context.Background()) }()

		loaded, err := manager.DiscoverAndLoad(ctx)
		if err != nil {
			return err
		}
		logger.Info("plugins loaded", "count", loaded, "dir", cfg.PluginDir)

		agent := host.NewAgent(manager, agentCfg, logger)
		if err := agent.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		logger.Info("shutting down")
		if err := agent.Stop(context.Background()); err != nil {
			return fmt.Errorf("agent shutdown: %w", err)
		}
		return nil
	},
}
