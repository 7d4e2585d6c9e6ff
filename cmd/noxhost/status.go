package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noxsuite/noxhost/internal/domain/host"
	"github.com/noxsuite/noxhost/internal/domain/plugin"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load all plugins once and report their status",
	Long: `Status performs a one-shot discovery and load of the plugin
directory, then prints the resulting registry summary and unloads
everything again.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		manager, err := host.NewManager(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = manager.Close(context.Background()) }()

		if _, err := manager.DiscoverAndLoad(ctx); err != nil {
			return err
		}

		summary := manager.Status()
		fmt.Println(headerStyle.Render(fmt.Sprintf(
			"plugins: %d total, %d active, %d inactive, %d error",
			summary.TotalPlugins, summary.ActivePlugins,
			summary.InactivePlugins, summary.ErrorPlugins)))

		names := make([]string, 0, len(summary.Plugins))
		for name := range summary.Plugins {
			names = append(names, name)
		}
		sort.Strings(names)

		caser := cases.Title(language.English)
		for _, name := range names {
			row := summary.Plugins[name]
			statusText := string(row.Status)
			switch row.Status {
			case plugin.StatusActive:
				statusText = okStyle.Render(statusText)
			case plugin.StatusError:
				statusText = errStyle.Render(statusText)
			default:
				statusText = dimStyle.Render(statusText)
			}
			fmt.Printf("%-24s %-18s %-10s %-14s trust=%s violations=%d\n",
				name, statusText, row.Version, caser.String(row.Category),
				row.Trust, row.Violations)
		}
		return nil
	},
}
