package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

// Set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printBanner()
		fmt.Printf("  version: %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// gateVersion returns the build version if it parses as semver, otherwise
// a stand-in so dev builds can still evaluate kit constraints.
func gateVersion() string {
	if _, err := semver.NewVersion(version); err != nil {
		return "0.0.0"
	}
	return version
}
