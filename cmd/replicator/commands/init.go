package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replicator-dev/replicator/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file populated with defaults.

By default, the file is created at $XDG_CONFIG_HOME/replicator/config.yaml.
Use --config to choose a custom path.

Examples:
  # Initialize at the default location
  replicator init

  # Initialize at a custom path
  replicator init --config /etc/replicator/config.yaml

  # Overwrite an existing file
  replicator init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Run a node:            replicator data-plane")
	fmt.Println("  3. Run the control plane: replicator control-plane")
	return nil
}
