package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/risk"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a position from a trade intent",
	Long: `Simulate a fill for a trade intent and record the position in the ledger.

The intent is given either with flags or as the advisor's text form.
When --size is omitted it is derived from --confidence and the risk
settings (risk_per_trade x confidence, capped at max_position_size).

Examples:
  trader open --side BUY --price 0.42 --size 0.1 --market 0xabc
  trader open --intent "side:SELL, price:0.7, size:0.05"
  echo "side:BUY, price:0.3, size:0.1" | trader open --intent -`,
	Args: cobra.NoArgs,
	RunE: runOpen,
}

var closeCmd = &cobra.Command{
	Use:   "close <position-id>",
	Short: "Close an open position at a price",
	Long: `Realize an open position at the given exit price.

Closing a position that is not open does nothing.

Example:
  trader close 01J0ZK6S3Q7W2X5Y9A4B8C1D2E --price 0.61`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Close every open position",
	Long: `Close all open positions at --price, or at simulated market prices
when no price is given.`,
	Args: cobra.NoArgs,
	RunE: runCloseAll,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Check open positions against take-profit and stop-loss",
	Long: `Observe a price for each open position and close those that crossed
a threshold. Without --price each position gets a simulated random-walk
price around its entry.`,
	Args: cobra.NoArgs,
	RunE: runTick,
}

var (
	openSide       string
	openPrice      string
	openSize       string
	openConfidence string
	openMarket     string
	openEvent      string
	openQuestion   string
	openIntent     string
	openNoRisk     bool

	closePrice  string
	closeReason string
	tickPrice   string
)

func init() {
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(closeAllCmd)
	rootCmd.AddCommand(tickCmd)

	openCmd.Flags().StringVar(&openSide, "side", "", "BUY or SELL")
	openCmd.Flags().StringVar(&openPrice, "price", "", "probability price in (0,1)")
	openCmd.Flags().StringVar(&openSize, "size", "", "fraction of balance to commit")
	openCmd.Flags().StringVar(&openConfidence, "confidence", "", "advisor confidence in [0,1], sizes the trade when --size is empty")
	openCmd.Flags().StringVar(&openMarket, "market", "", "market id")
	openCmd.Flags().StringVar(&openEvent, "event", "", "event title")
	openCmd.Flags().StringVar(&openQuestion, "question", "", "market question")
	openCmd.Flags().StringVar(&openIntent, "intent", "", `intent text "side:BUY, price:0.42, size:0.1" or - for stdin`)
	openCmd.Flags().BoolVar(&openNoRisk, "no-risk", false, "skip daily trade and loss limits")

	closeCmd.Flags().StringVarP(&closePrice, "price", "p", "", "exit price (required)")
	closeCmd.Flags().StringVar(&closeReason, "reason", string(portfolio.ReasonManual), "close reason recorded in the journal")
	closeCmd.MarkFlagRequired("price")

	closeAllCmd.Flags().StringVarP(&closePrice, "price", "p", "", "exit price for every position")
	tickCmd.Flags().StringVarP(&tickPrice, "price", "p", "", "observed price for every position")
}

func parseDecimalFlag(name, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s %q: %w", name, v, err)
	}
	return d, nil
}

func readIntent(r io.Reader) (portfolio.Intent, error) {
	text := openIntent
	if text == "-" {
		b, err := io.ReadAll(r)
		if err != nil {
			return portfolio.Intent{}, err
		}
		text = string(b)
	}
	in, err := portfolio.ParseIntent(text)
	if err != nil {
		return portfolio.Intent{}, err
	}
	if openMarket != "" {
		in.MarketID = openMarket
	}
	if openEvent != "" {
		in.EventTitle = openEvent
	}
	if openQuestion != "" {
		in.MarketQuestion = openQuestion
	}
	return in, nil
}

func intentFromFlags() (portfolio.Intent, error) {
	in := portfolio.Intent{
		Side:           market.ParseSide(openSide),
		MarketID:       openMarket,
		EventTitle:     openEvent,
		MarketQuestion: openQuestion,
	}
	var err error
	if in.Price, err = parseDecimalFlag("price", openPrice); err != nil {
		return in, err
	}
	switch {
	case openSize != "":
		in.SizeFraction, err = parseDecimalFlag("size", openSize)
	case openConfidence != "":
		var conf decimal.Decimal
		if conf, err = parseDecimalFlag("confidence", openConfidence); err == nil {
			in.SizeFraction = risk.PositionSize(riskPolicy(cfg), conf)
		}
	default:
		err = fmt.Errorf("one of --size or --confidence is required")
	}
	return in, err
}

func runOpen(cmd *cobra.Command, args []string) error {
	var in portfolio.Intent
	var err error
	if openIntent != "" {
		in, err = readIntent(os.Stdin)
	} else {
		in, err = intentFromFlags()
	}
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, !openNoRisk)
	if err != nil {
		return err
	}
	defer a.Close()
	if !openNoRisk {
		if err := a.seedDay(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not restore today's trade counters")
		}
	}

	res, err := a.engine.Open(ctx, in)
	if err != nil {
		return err
	}
	if !res.Opened {
		fmt.Printf("✗ Intent skipped: %s", res.Skip)
		if res.Detail != "" {
			fmt.Printf(" (%s)", res.Detail)
		}
		fmt.Printf("\n  Balance: $%s\n", res.Balance.StringFixed(2))
		return nil
	}

	p := res.Position
	fmt.Printf("✓ Opened %s %s @ %s\n", p.Side, p.ID, p.EntryPrice)
	fmt.Printf("  Notional: $%s  Fill: %s%%  Fee: $%s\n",
		p.Notional.StringFixed(2), res.Report.FillFraction.Shift(2).StringFixed(1), p.Commission.StringFixed(4))
	fmt.Printf("  Balance:  $%s\n", res.Balance.StringFixed(2))
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	exit, err := parseDecimalFlag("price", closePrice)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	c, ok, err := a.engine.Close(ctx, args[0], exit, portfolio.Reason(closeReason))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("Position %s is not open; nothing to do\n", args[0])
		return nil
	}
	printClosed([]portfolio.Closed{c})
	return nil
}

func pricesFromFlag(v string) (portfolio.PriceSource, error) {
	if v == "" {
		return walkSource(cfg.Execution.Seed), nil
	}
	px, err := parseDecimalFlag("price", v)
	if err != nil {
		return nil, err
	}
	return portfolio.FixedPrice(px), nil
}

func runCloseAll(cmd *cobra.Command, args []string) error {
	prices, err := pricesFromFlag(closePrice)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	closed, err := a.engine.CloseAll(ctx, prices, portfolio.ReasonCloseAll)
	printClosed(closed)
	return err
}

func runTick(cmd *cobra.Command, args []string) error {
	prices, err := pricesFromFlag(tickPrice)
	if err != nil {
		return err
	}
	return tickOnce(cmd.Context(), prices)
}

func tickOnce(ctx context.Context, prices portfolio.PriceSource) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	closed, err := a.engine.Tick(ctx, prices)
	if err != nil {
		return err
	}
	if len(closed) == 0 {
		fmt.Println("No positions crossed a threshold")
		return nil
	}
	printClosed(closed)
	return nil
}

func printClosed(closed []portfolio.Closed) {
	for _, c := range closed {
		fmt.Printf("✓ Closed %s %s (%s) %s -> %s  P/L: $%s\n",
			c.Side, c.PositionID, c.Reason, c.EntryPrice, c.ExitPrice, c.RealizedPnL.StringFixed(2))
	}
	if n := len(closed); n > 0 {
		fmt.Printf("  Balance: $%s\n", closed[n-1].Balance.StringFixed(2))
	}
}
