package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxhost/internal/domain/config"
	"github.com/noxsuite/noxhost/internal/domain/host"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "noxhost",
	Short: "A sandboxed plugin host",
	Long: `Noxhost loads third-party plugin packages, validates their manifests
and entry artifacts, and runs them under configurable resource and
access constraints with lifecycle management and a cross-plugin
hook bus.`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: noxhost.toml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the config file flag, falling back to
// noxhost.toml in the working directory when it exists.
func loadConfig() (host.Config, host.AgentConfig, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("noxhost.toml"); err == nil {
			path = "noxhost.toml"
		}
	}
	return config.Load(path)
}
