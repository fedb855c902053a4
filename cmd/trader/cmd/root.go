package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/config"
	"github.com/rustyeddy/polytrader/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Simulated prediction-market trading with a durable portfolio ledger",
	Long: `Trader turns trade intents on binary prediction markets into simulated
fills, tracks the open positions in a persisted ledger and closes them on
take-profit or stop-loss.

It provides tools for:
  - Opening and closing positions by hand or from advisor intents
  - Monitoring open positions against exit thresholds
  - Mark-to-market valuation of the open book
  - Trade journals, session reports and performance statistics
  - Replaying recorded market prices through the engine
  - An HTTP endpoint with metrics and a live stream of closed positions

Modes:
  dry_run  perfect fills, ledger at ./logs/portfolio.json
  paper    slippage, commission and partial fills, ledger at ./logs/paper_portfolio.json`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var (
	cfgPath  string
	envPath  string
	modeFlag string

	cfg    *config.Config
	logger zerolog.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file overlaid on the config")
	rootCmd.PersistentFlags().StringVarP(&modeFlag, "mode", "m", "", "trading mode override: dry_run or paper")
}

// loadConfig resolves the effective configuration: file or defaults, then
// the environment, then flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromFile(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(envPath); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if modeFlag != "" {
		if err := cfg.SetMode(modeFlag); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger = logging.New(cfg.Log.Level, os.Stderr, cfg.Log.Pretty)
	return nil
}
