package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rustyeddy/polytrader/journal"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trading session from a file of intents",
	Long: `Run a trading session: each line of the intents file is offered to the
engine, and open positions are monitored against simulated prices between
intents and for a number of ticks afterwards.

Intent lines use the advisor format; blank lines and lines starting with #
are ignored:

  side:BUY, price:0.42, size:0.1, market:0xabc
  side:SELL, price:0.70, size:0.05

Example:
  trader run -i intents.txt --ticks 50 --report session.org`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runIntentsPath string
	runTicksEach   int
	runTicks       int
	runInterval    time.Duration
	runCloseAll    bool
	runReportPath  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runIntentsPath, "intents", "i", "-", "intents file, - for stdin")
	runCmd.Flags().IntVar(&runTicksEach, "ticks-per-intent", 1, "monitor ticks after each intent")
	runCmd.Flags().IntVar(&runTicks, "ticks", 20, "monitor ticks after the last intent")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "pause between ticks")
	runCmd.Flags().BoolVar(&runCloseAll, "close-all", false, "close whatever is still open at the end")
	runCmd.Flags().StringVarP(&runReportPath, "report", "r", "", "write an Org-mode session report here")
}

// readIntents returns the non-comment lines of r.
func readIntents(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// tradeCollector keeps closes for the session report.
type tradeCollector struct {
	mu     sync.Mutex
	mode   string
	trades []journal.TradeRecord
}

func (c *tradeCollector) OnPositionClosed(cl portfolio.Closed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, journal.TradeRecord{
		TradeID:    cl.PositionID,
		Mode:       c.mode,
		MarketID:   cl.MarketID,
		EventTitle: cl.EventTitle,
		Side:       cl.Side,
		Notional:   cl.Notional,
		EntryPrice: cl.EntryPrice,
		ExitPrice:  cl.ExitPrice,
		OpenTime:   cl.OpenedAt,
		CloseTime:  cl.ClosedAt,
		RealizedPL: cl.RealizedPnL,
		Reason:     string(cl.Reason),
	})
}

func (c *tradeCollector) Trades() []journal.TradeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]journal.TradeRecord(nil), c.trades...)
}

// monitorTicks runs up to n ticks. Cancellation stops it without an error so
// the session can still close out and report.
func monitorTicks(ctx context.Context, n int, tick func() error) error {
	for i := 0; i < n && ctx.Err() == nil; i++ {
		if err := tick(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	in := os.Stdin
	if runIntentsPath != "-" {
		f, err := os.Open(runIntentsPath)
		if err != nil {
			return fmt.Errorf("open intents: %w", err)
		}
		defer f.Close()
		in = f
	}
	lines, err := readIntents(in)
	if err != nil {
		return fmt.Errorf("read intents: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := &tradeCollector{mode: cfg.Mode}
	a, err := newApp(ctx, true, portfolio.WithListener(collector))
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.seedDay(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore today's trade counters")
	}

	start, err := a.ledger.Snapshot(ctx)
	if err != nil {
		return err
	}
	report := journal.SessionReport{
		Mode:         cfg.Mode,
		Created:      time.Now(),
		Start:        time.Now(),
		StartBalance: start.CurrentBalance.Add(start.OpenNotional()),
		Intents:      len(lines),
	}

	fmt.Printf("Running %s session: %d intents, balance $%s\n",
		cfg.Mode, len(lines), start.CurrentBalance.StringFixed(2))
	fmt.Println()

	walk := walkSource(cfg.Execution.Seed)
	tick := func() error {
		if runInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(runInterval):
			}
		}
		closed, err := a.engine.Tick(ctx, walk)
		printClosed(closed)
		return err
	}

	for i, line := range lines {
		if ctx.Err() != nil {
			break
		}
		intent, err := portfolio.ParseIntent(line)
		if err != nil {
			report.Skipped++
			report.Notes = append(report.Notes, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		res, err := a.engine.Open(ctx, intent)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if res.Opened {
			report.Opened++
			fmt.Printf("✓ Opened %s %s @ %s ($%s)\n",
				res.Position.Side, res.Position.ID, res.Position.EntryPrice, res.Position.Notional.StringFixed(2))
		} else {
			report.Skipped++
			fmt.Printf("✗ Skipped line %d: %s %s\n", i+1, res.Skip, res.Detail)
		}
		if err := monitorTicks(ctx, runTicksEach, tick); err != nil {
			return err
		}
	}

	if err := monitorTicks(ctx, runTicks, tick); err != nil {
		return err
	}

	if runCloseAll {
		closed, err := a.engine.CloseAll(context.WithoutCancel(ctx), walk, portfolio.ReasonCloseAll)
		printClosed(closed)
		if err != nil {
			logger.Warn().Err(err).Msg("close all left positions open")
		}
	}

	end, err := a.ledger.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	report.End = time.Now()
	report.EndBalance = end.CurrentBalance.Add(end.OpenNotional())
	report.OpenAtEnd = len(end.Positions)
	report.Trades = collector.Trades()
	report.Stats = journal.ComputeStats(report.Trades)

	fmt.Println()
	fmt.Printf("Session complete: opened %d, skipped %d, closed %d, open %d\n",
		report.Opened, report.Skipped, len(report.Trades), report.OpenAtEnd)
	fmt.Printf("  Balance: $%s  Equity at cost: $%s  Net: $%s (%s%%)\n",
		end.CurrentBalance.StringFixed(2), report.EndBalance.StringFixed(2),
		report.NetPL().StringFixed(2), report.ReturnPct().StringFixed(2))

	if runReportPath != "" {
		if err := report.WriteOrg(runReportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("  Report: %s\n", runReportPath)
	}
	return nil
}
