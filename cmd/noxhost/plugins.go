package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noxsuite/noxhost/internal/domain/host"
	"github.com/noxsuite/noxhost/internal/domain/manifest"
	"github.com/noxsuite/noxhost/internal/domain/security"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect plugin packages",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugin packages in the plugin directory",
	RunE: func(_ *cobra.Command, _ []string) error {
		logger := newLogger()
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		loader := manifest.NewLoader(logger)
		dirs, err := loader.Discover(cfg.PluginDir)
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Println(dimStyle.Render("no plugin packages found in " + cfg.PluginDir))
			return nil
		}

		caser := cases.Title(language.English)
		fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %-10s %-14s %s", "NAME", "VERSION", "CATEGORY", "DESCRIPTION")))
		for _, dir := range dirs {
			man, err := loader.Load(dir)
			if err != nil {
				fmt.Printf("%-24s %s\n", dir, errStyle.Render("invalid: "+err.Error()))
				continue
			}
			fmt.Printf("%-24s %-10s %-14s %s\n",
				man.Name, man.Version, caser.String(man.Category), man.Description)
		}
		return nil
	},
}

var pluginsValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate a plugin package without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		loader := manifest.NewLoader(logger)
		man, err := loader.Load(args[0])
		if err != nil {
			return err
		}
		if err := man.CheckCompatibility(host.APIVersion); err != nil {
			return err
		}
		if err := cfg.Permissions.CheckAll(man.Permissions); err != nil {
			return err
		}

		var keys *security.Keyring
		if len(cfg.TrustedKeys) > 0 {
			keys, err = security.NewKeyring(cfg.TrustedKeys)
			if err != nil {
				return err
			}
		}
		report, err := security.NewValidator(logger, keys).Validate(args[0], man)
		if err != nil {
			return err
		}

		fmt.Println(okStyle.Render("manifest valid: ") + man.Name + " " + man.Version)
		fmt.Println(dimStyle.Render("checksum: " + report.Checksum))
		fmt.Println(dimStyle.Render("trust:    " + string(report.Trust)))
		if len(report.PatternHits) > 0 {
			fmt.Println(warnStyle.Render("sensitive patterns: " + strings.Join(report.PatternHits, ", ")))
		}
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsValidateCmd)
}
