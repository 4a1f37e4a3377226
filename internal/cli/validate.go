package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a test configuration without running it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(validateConfig(args[0]))
	},
}

func validateConfig(path string) int {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration is invalid:\n%v\n", err)
		return 2
	}

	fmt.Printf("%s is valid: %d scenario(s), %d threshold(s)\n",
		path, len(cfg.Scenarios), len(cfg.Thresholds))
	return 0
}
