package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpd/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ftpd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/ftpd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  ftpd init

  # Force overwrite existing config
  ftpd init --config /etc/ftpd/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var (
		configPath string
		err        error
	)
	if cfgFile != "" {
		err = config.InitConfigToPath(cfgFile, initForce)
		configPath = cfgFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the configuration file to customize your setup")
	fmt.Fprintf(out, "  2. Start the server with: ftpd serve --config %s\n", configPath)
	return nil
}
