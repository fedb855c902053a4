package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/polytrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from the SQLite journal.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day
  stats  - Performance statistics over all or recent trades

Examples:
  trader journal trade <trade-id>
  trader journal today
  trader journal day 2024-01-15
  trader journal stats --days 7`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show performance statistics",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var (
	journalDBPath string
	statsDays     int
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default from config)")
	journalStatsCmd.Flags().IntVar(&statsDays, "days", 0, "only trades closed in the last N days (0 = all)")
	journalStatsCmd.Flags().BoolVar(&outputJSON, "json", false, "print JSON instead of text")
}

func openJournalDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal database; pass --db or set journal.db_path")
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Println(journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listDay(time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(args[0])
}

func listDay(day string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	fmt.Println(journal.FormatTradesOrg(recs))
	return nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	j, err := openJournalDB()
	if err != nil {
		return err
	}
	defer j.Close()

	var recs []journal.TradeRecord
	if statsDays > 0 {
		end := time.Now()
		recs, err = j.ListTradesClosedBetween(end.AddDate(0, 0, -statsDays), end)
	} else {
		recs, err = j.ListTrades()
	}
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	s := journal.ComputeStats(recs)
	if outputJSON {
		// encoding/json rejects +Inf; no losses reports a null profit factor.
		out := struct {
			journal.Stats
			ProfitFactor *float64 `json:"profit_factor"`
		}{Stats: s}
		if !math.IsInf(s.ProfitFactor, 0) {
			out.ProfitFactor = &s.ProfitFactor
		}
		return printJSON(out)
	}

	fmt.Printf("Trades:        %d (%d won, %d lost)\n", s.Trades, s.Wins, s.Losses)
	fmt.Printf("Win rate:      %.1f%%\n", s.WinRate*100)
	fmt.Printf("Total P/L:     $%s\n", s.TotalPnL.StringFixed(2))
	fmt.Printf("Average P/L:   $%s\n", s.AvgPnL.StringFixed(2))
	fmt.Printf("Best / worst:  $%s / $%s\n", s.MaxProfit.StringFixed(2), s.MaxLoss.StringFixed(2))
	if math.IsInf(s.ProfitFactor, 1) {
		fmt.Println("Profit factor: ∞")
	} else {
		fmt.Printf("Profit factor: %.2f\n", s.ProfitFactor)
	}
	fmt.Printf("Max drawdown:  $%s\n", s.MaxDrawdown.StringFixed(2))
	fmt.Printf("Sharpe:        %.2f\n", s.Sharpe)
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
