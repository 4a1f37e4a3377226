package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/executor"
)

var executorsCmd = &cobra.Command{
	Use:   "executors",
	Short: "List the available executor types",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range executor.Types() {
			desc := executor.Describe(t)
			fmt.Printf("%s (%s)\n", desc.Name, desc.Type)
			fmt.Printf("  %s\n", desc.Description)
			if len(desc.UseCases) > 0 {
				fmt.Println("  Use cases:")
				for _, uc := range desc.UseCases {
					fmt.Printf("    - %s\n", uc)
				}
			}
			fmt.Println()
		}
	},
}
