package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a configuration file",
	Long: `Validate a toolgate configuration file. With no argument the merged
configuration for the working directory is checked instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error

	if len(args) == 1 {
		cfg, err = config.LoadFile(args[0])
	} else {
		cfg, err = loadConfig()
	}
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Configuration OK: %d server(s)", len(cfg.Servers))
	if cfg.Reconnect != nil {
		fmt.Print(", reconnect overrides present")
	}
	fmt.Println()
	return nil
}
