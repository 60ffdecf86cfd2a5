// Package commands implements the replicator CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "replicator",
	Short: "Two-tier content-addressed object replicator",
	Long: `Replicator moves chunked, content-addressed objects between storage nodes.

The control plane schedules migration jobs against a durable queue and drives
chunk-delta transfers; each data plane node stores chunks by SHA-256 and
serves object ingest, download and manifest exchange over HTTP.

Use "replicator [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/replicator/config.yaml)")

	rootCmd.AddCommand(controlPlaneCmd)
	rootCmd.AddCommand(dataPlaneCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration honoring the global --config flag and
// initializes the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
