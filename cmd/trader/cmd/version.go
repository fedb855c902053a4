package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the trader CLI.`,
	// Printing the version needs no configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trader version %s\n", version)
		fmt.Println("Simulated prediction-market trading with a durable portfolio ledger")
		fmt.Println("https://github.com/rustyeddy/polytrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
