package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rustyeddy/polytrader/query"
	"github.com/spf13/cobra"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions",
	Args:  cobra.NoArgs,
	RunE:  runPositions,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the ledger balance and totals",
	Args:  cobra.NoArgs,
	RunE:  runBalance,
}

var mtmCmd = &cobra.Command{
	Use:   "mtm",
	Short: "Value open positions at an observed price",
	Long: `Mark the open book to market without closing anything.

Example:
  trader mtm --price 0.55`,
	Args: cobra.NoArgs,
	RunE: runMTM,
}

var (
	outputJSON bool
	mtmPrice   string
)

func init() {
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(mtmCmd)

	for _, c := range []*cobra.Command{positionsCmd, balanceCmd, mtmCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of text")
	}
	mtmCmd.Flags().StringVarP(&mtmPrice, "price", "p", "", "observed price (required)")
	mtmCmd.MarkFlagRequired("price")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openFacade(cmd *cobra.Command) (*query.Facade, func(), error) {
	l, err := openLedger(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return query.New(l), func() { l.Close() }, nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	q, done, err := openFacade(cmd)
	if err != nil {
		return err
	}
	defer done()

	positions, err := q.Positions(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(positions)
	}
	if len(positions) == 0 {
		fmt.Println("No open positions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIDE\tENTRY\tNOTIONAL\tSIZE\tOPENED\tMARKET")
	for _, p := range positions {
		label := p.MarketQuestion
		if label == "" {
			label = p.MarketID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Side, p.EntryPrice, p.Notional.StringFixed(2), p.SizeFraction,
			p.OpenedAt.Local().Format("2006-01-02 15:04"), label)
	}
	return w.Flush()
}

func runBalance(cmd *cobra.Command, args []string) error {
	q, done, err := openFacade(cmd)
	if err != nil {
		return err
	}
	defer done()

	s, err := q.Summary(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(s)
	}

	fmt.Printf("Mode:      %s\n", cfg.Mode)
	fmt.Printf("Balance:   $%s\n", s.Balance.StringFixed(2))
	fmt.Printf("Locked:    $%s in %d positions\n", s.Locked.StringFixed(2), len(s.Positions))
	fmt.Printf("Initial:   $%s\n", s.InitialBalance.StringFixed(2))
	fmt.Printf("Realized:  $%s over %d closed trades\n", s.RealizedPnL.StringFixed(2), s.ClosedCount)
	fmt.Printf("Fees:      $%s\n", s.FeesPaid.StringFixed(2))
	fmt.Printf("Return:    %s%%\n", s.ReturnPct().StringFixed(2))
	return nil
}

func runMTM(cmd *cobra.Command, args []string) error {
	px, err := parseDecimalFlag("price", mtmPrice)
	if err != nil {
		return err
	}
	q, done, err := openFacade(cmd)
	if err != nil {
		return err
	}
	defer done()

	m, err := q.MarkToMarket(cmd.Context(), px)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(m)
	}

	fmt.Printf("Open positions: %d\n", m.Count)
	fmt.Printf("Unrealized:     $%s\n", m.Unrealized.StringFixed(2))
	fmt.Printf("Balance:        $%s\n", m.Balance.StringFixed(2))
	fmt.Printf("Locked:         $%s\n", m.Locked.StringFixed(2))
	fmt.Printf("Equity:         $%s\n", m.Equity.StringFixed(2))
	return nil
}
