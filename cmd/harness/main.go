// Command harness drives an autonomous coding agent through a sequence of
// bounded sessions until every feature of an app spec passes validation.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// projectDir is the root of the project being built
	projectDir string
	// configPath overrides <project>/.harness/config.yaml
	configPath string
	// logLevel overrides logging.level
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Run a coding agent session by session until every feature passes",
	Long: `harness turns an app spec into a dependency-ordered feature list and works
through it one bounded session at a time. Each session gets its bearings from
the previous handoff, checks earlier features for regressions, implements and
validates one feature, and persists progress under .harness/.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate("harness {{.Version}} (commit " + gitCommit + ", built " + buildDate + ")\n")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <project>/.harness/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}
