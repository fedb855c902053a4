package cmd

import (
	"fmt"

	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/replay"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <ticks.csv>",
	Short: "Replay recorded market prices through the engine",
	Long: `Feed a CSV of recorded prices through the position engine. Each row
updates one market's price and evaluates take-profit and stop-loss. Rows
may carry a scripted event:

  time,market_id,price[,event,arg1,arg2]

  OPEN,BUY|SELL,<size>     open at the row price
  CLOSE,<id>[,reason]      close one position at the row price
  CLOSE_ALL[,reason]       close everything at the last known prices

Positions are stamped with the row times. Replays write to the configured
ledger and journal like any other session.

Example:
  trader replay -m paper ./data/election.csv --tick-first`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayTickFirst bool
	replayNoRisk    bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayTickFirst, "tick-first", false, "evaluate thresholds before a row's event")
	replayCmd.Flags().BoolVar(&replayNoRisk, "no-risk", false, "skip the risk gate")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clock := &replay.Clock{}

	a, err := newApp(ctx, !replayNoRisk, portfolio.WithClock(clock.Now))
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := replay.CSV(ctx, args[0], a.engine, replay.Options{
		TickThenEvent: replayTickFirst,
		Clock:         clock,
	})
	printClosed(res.Closed)
	fmt.Printf("Replayed %d rows: %d opened, %d skipped, %d closed\n",
		res.Rows, res.Opened, res.Skips, len(res.Closed))
	if err != nil {
		return fmt.Errorf("replay %s: %w", args[0], err)
	}
	return nil
}
