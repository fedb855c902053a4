package cmd

import (
	"fmt"

	"github.com/rustyeddy/polytrader/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage trader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  trader config init -o trader.yaml --mode paper
  trader config validate -f trader.yaml`,
	// Config files are handled directly; the global config is not loaded.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings for a mode.

Example:
  trader config init -o trader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  trader config validate -f trader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "trader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	mode := modeFlag
	if mode == "" {
		mode = config.ModeDryRun
	}
	c, err := config.ForMode(mode)
	if err != nil {
		return err
	}
	if err := c.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default %s configuration: %s\n", c.Mode, configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  trader run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Mode: %s\n", c.Mode)
	fmt.Printf("  Ledger: %s %s ($%.2f initial)\n", c.Ledger.Backend, c.Ledger.Path, c.Ledger.InitialBalance)
	fmt.Printf("  Risk: max size %.1f%%, TP %.1f%%, SL %.1f%%\n",
		c.Risk.MaxPositionSize*100, c.Risk.TakeProfit*100, c.Risk.StopLoss*100)
	fmt.Printf("  Journal: %s\n", c.Journal.Type)
	return nil
}
