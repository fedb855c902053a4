package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/polytrader/config"
	"github.com/rustyeddy/polytrader/journal"
	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/risk"
	"github.com/rustyeddy/polytrader/sim"
	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func openStore(c *config.Config) (ledger.Store, error) {
	switch c.Ledger.Backend {
	case "sqlite":
		return ledger.NewSQLiteStore(c.Ledger.Path)
	default:
		return ledger.NewFileStore(c.Ledger.Path)
	}
}

func retryPolicy(c *config.Config) ledger.RetryPolicy {
	p := ledger.DefaultRetryPolicy()
	if c.Ledger.MaxAttempts > 0 {
		p.MaxAttempts = c.Ledger.MaxAttempts
	}
	if d, err := c.Ledger.ParseIOTimeout(); err == nil && d > 0 {
		p.IOTimeout = d
	}
	return p
}

// openLedger opens the ledger for the configured mode, creating it on first
// use.
func openLedger(ctx context.Context, c *config.Config) (*ledger.Ledger, error) {
	store, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", c.Ledger.Backend, c.Ledger.Path, err)
	}
	l, status, err := ledger.Open(ctx, store, ledger.Options{
		Name:           c.Mode,
		InitialBalance: dec(c.Ledger.InitialBalance),
		Retry:          retryPolicy(c),
		Logger:         logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Debug().Str("path", c.Ledger.Path).Str("status", status.String()).Msg("ledger opened")
	return l, nil
}

func openJournal(c *config.Config) (journal.Journal, error) {
	switch c.Journal.Type {
	case "csv":
		return journal.NewCSV(c.Journal.TradesFile, c.Journal.EquityFile)
	case "jsonl":
		return journal.NewJSONL(c.Journal.TradesFile), nil
	case "sqlite":
		return journal.NewSQLite(c.Journal.DBPath)
	default:
		return journal.Nop{}, nil
	}
}

func execConfig(c *config.Config) sim.ExecConfig {
	e := c.EffectiveExecution()
	return sim.ExecConfig{
		CommissionBps: dec(e.CommissionBps),
		SlippageBps:   dec(e.SlippageBps),
		MinFill:       dec(e.MinFill),
		MaxFill:       dec(e.MaxFill),
	}
}

func riskPolicy(c *config.Config) risk.Policy {
	return risk.Policy{
		MaxPositionSize:  dec(c.Risk.MaxPositionSize),
		RiskPerTrade:     dec(c.Risk.RiskPerTrade),
		MaxDailyTrades:   c.Risk.MaxDailyTrades,
		MaxDailyLoss:     dec(c.Risk.MaxDailyLoss),
		MaxOpenPositions: c.Risk.MaxOpenPositions,
	}
}

func engineConfig(c *config.Config) portfolio.Config {
	return portfolio.Config{
		MaxPositionSize: dec(c.Risk.MaxPositionSize),
		TakeProfit:      dec(c.Risk.TakeProfit),
		StopLoss:        dec(c.Risk.StopLoss),
		Exec:            execConfig(c),
		ReleaseUnfilled: c.Execution.ReleaseUnfilled,
	}
}

// app bundles everything a command needs. Close releases it all.
type app struct {
	ledger  *ledger.Ledger
	journal journal.Journal
	engine  *portfolio.Engine
	day     *risk.DayTracker
}

func newApp(ctx context.Context, withRisk bool, opts ...portfolio.Option) (*app, error) {
	l, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	j, err := openJournal(cfg)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("create journal: %w", err)
	}

	a := &app{ledger: l, journal: j, day: risk.NewDayTracker(time.Local)}
	opts = append([]portfolio.Option{
		portfolio.WithJournal(j),
		portfolio.WithLogger(logger),
		portfolio.WithSource(sim.NewSource(cfg.Execution.Seed)),
	}, opts...)
	if withRisk {
		opts = append(opts, portfolio.WithRisk(riskPolicy(cfg), a.day))
	}
	a.engine = portfolio.NewEngine(l, engineConfig(cfg), opts...)
	return a, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		logger.Warn().Err(err).Msg("close journal")
	}
	if err := a.ledger.Close(); err != nil {
		logger.Warn().Err(err).Msg("close ledger")
	}
}

// walkSource is the simulated market used when no price is given.
func walkSource(seed uint64) *sim.RandomWalk {
	width := dec(cfg.Execution.WalkWidth)
	if !width.IsPositive() {
		width = sim.DefaultWalkWidth
	}
	// Offset the seed so walk draws do not mirror fill draws.
	if seed != 0 {
		seed++
	}
	return sim.NewRandomWalk(width, sim.NewSource(seed))
}

// seedDay restores today's counters for one-shot commands: opens from the
// ledger and the journal, closed PnL from the journal.
func (a *app) seedDay(ctx context.Context) error {
	now := time.Now()
	start := risk.TodayOpen(time.Local, now)

	positions, err := a.ledger.Positions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if !p.OpenedAt.Before(start) {
			a.day.RecordOpen(p.OpenedAt)
		}
	}

	sq, ok := a.journal.(*journal.SQLite)
	if !ok {
		return nil
	}
	trades, err := sq.ListTradesClosedBetween(start, start.Add(24*time.Hour))
	if err != nil {
		return err
	}
	for _, t := range trades {
		if !t.OpenTime.Before(start) {
			a.day.RecordOpen(t.OpenTime)
		}
		a.day.RecordClose(t.CloseTime, t.RealizedPL)
	}
	return nil
}
