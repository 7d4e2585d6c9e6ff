package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxhost/internal/domain/host"
)

// Version information set by build flags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("noxhost %s\n", version)
		fmt.Printf("  api:    %s\n", host.APIVersion)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}
