// Package portfolio runs the position lifecycle: it opens positions from
// trade intents through the execution simulator, watches them against
// take-profit and stop-loss thresholds and realizes PnL back into the ledger.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/id"
	"github.com/rustyeddy/polytrader/journal"
	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/metrics"
	"github.com/rustyeddy/polytrader/risk"
	"github.com/rustyeddy/polytrader/sim"
	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonTakeProfit Reason = "TakeProfit"
	ReasonStopLoss   Reason = "StopLoss"
	ReasonManual     Reason = "Manual"
	ReasonCloseAll   Reason = "CloseAll"
)

// Skip reasons reported by Open when an intent has no effect.
const (
	SkipInvalidSide  = "invalid_side"
	SkipInvalidPrice = "invalid_price"
	SkipInvalidSize  = "invalid_size"
	SkipNoBalance    = "no_balance"
	SkipUnfilled     = "unfilled"
	SkipRisk         = "risk"
)

type Config struct {
	MaxPositionSize decimal.Decimal
	TakeProfit      decimal.Decimal // directional change that closes in profit
	StopLoss        decimal.Decimal // positive; closes when change <= -StopLoss
	Exec            sim.ExecConfig

	// ReleaseUnfilled reserves only the executed notional. By default the
	// full intended notional is locked even when the fill is partial.
	ReleaseUnfilled bool
}

func DefaultConfig() Config {
	return Config{
		MaxPositionSize: decimal.RequireFromString("0.1"),
		TakeProfit:      decimal.RequireFromString("0.15"),
		StopLoss:        decimal.RequireFromString("0.05"),
		Exec:            sim.DefaultExecConfig(),
	}
}

// OpenResult describes what Open did. When Opened is false, Skip names the
// reason and the ledger is unchanged.
type OpenResult struct {
	Opened   bool
	Skip     string
	Detail   string
	Position ledger.Position
	Report   sim.Report
	Balance  decimal.Decimal // free balance after the call
}

// Closed is the record emitted for every position that leaves the ledger.
type Closed struct {
	PositionID  string          `json:"position_id"`
	MarketID    string          `json:"market_id,omitempty"`
	EventTitle  string          `json:"event_title,omitempty"`
	Side        market.Side     `json:"side"`
	Notional    decimal.Decimal `json:"notional"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Change      decimal.Decimal `json:"price_change"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
	Reason      Reason          `json:"reason"`
	Balance     decimal.Decimal `json:"balance"`
}

// ClosedListener is told about every close after it has been persisted and
// the ledger lock released, so listeners may call back into the engine.
type ClosedListener interface {
	OnPositionClosed(Closed)
}

type ClosedListenerFunc func(Closed)

func (f ClosedListenerFunc) OnPositionClosed(c Closed) { f(c) }

type Engine struct {
	led     *ledger.Ledger
	cfg     Config
	rnd     sim.Source
	journal journal.Journal
	log     zerolog.Logger
	now     func() time.Time

	policy *risk.Policy
	day    *risk.DayTracker
	gate   sync.Mutex // ledger update + day counters as one step

	mu        sync.Mutex // guards listeners
	listeners []ClosedListener
}

type Option func(*Engine)

func WithSource(src sim.Source) Option { return func(e *Engine) { e.rnd = src } }

func WithJournal(j journal.Journal) Option { return func(e *Engine) { e.journal = j } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithRisk gates Open on p. Daily counters are tracked in day.
func WithRisk(p risk.Policy, day *risk.DayTracker) Option {
	return func(e *Engine) {
		e.policy = &p
		e.day = day
	}
}

func WithListener(l ClosedListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

func NewEngine(l *ledger.Ledger, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		led:     l,
		cfg:     cfg,
		journal: journal.Nop{},
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rnd == nil {
		e.rnd = sim.NewSource(0)
	}
	if e.day == nil {
		e.day = risk.NewDayTracker(time.UTC)
	}
	e.cfg.Exec = e.cfg.Exec.Normalize()
	return e
}

func (e *Engine) Ledger() *ledger.Ledger { return e.led }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Day() risk.DayStats { return e.day.Today(e.now()) }

// AddListener registers l for future closes.
func (e *Engine) AddListener(l ClosedListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// clampSize forces size into [0, MaxPositionSize].
func (e *Engine) clampSize(size decimal.Decimal) decimal.Decimal {
	if size.IsNegative() {
		return decimal.Zero
	}
	if e.cfg.MaxPositionSize.IsPositive() && size.GreaterThan(e.cfg.MaxPositionSize) {
		return e.cfg.MaxPositionSize
	}
	return size
}

// commit runs a ledger update and, when it succeeds, record under gate. Risk
// checks read the day counters inside the update, so a committed change and
// its counters must land together or concurrent opens slip past the limits.
func (e *Engine) commit(ctx context.Context, fn func(*ledger.Document) error, record func()) (ledger.Document, error) {
	e.gate.Lock()
	defer e.gate.Unlock()
	doc, err := e.led.Update(ctx, fn)
	if err == nil {
		record()
	}
	return doc, err
}

// recordCloses counts closed positions against the day.
func (e *Engine) recordCloses(closed *[]Closed) func() {
	return func() {
		for _, c := range *closed {
			e.day.RecordClose(c.ClosedAt, c.RealizedPnL)
		}
	}
}

// Open turns in into a position. Invalid or unexecutable intents are
// reported through OpenResult.Skip with a nil error; an error means the
// ledger could not be updated and nothing changed.
func (e *Engine) Open(ctx context.Context, in Intent) (OpenResult, error) {
	skip := func(reason, detail string) (OpenResult, error) {
		res := OpenResult{Skip: reason, Detail: detail, Balance: e.led.Cached().CurrentBalance}
		e.logSkip(in, res)
		return res, nil
	}

	switch {
	case !in.Side.Valid():
		return skip(SkipInvalidSide, fmt.Sprintf("side %q", in.Side))
	case !market.ValidQuote(in.Price):
		return skip(SkipInvalidPrice, fmt.Sprintf("price %s outside (0,1)", in.Price))
	case !in.SizeFraction.IsPositive():
		return skip(SkipInvalidSize, fmt.Sprintf("size %s", in.SizeFraction))
	}
	size := e.clampSize(in.SizeFraction)

	var res OpenResult
	now := e.now()
	doc, err := e.commit(ctx, func(doc *ledger.Document) error {
		if e.policy != nil {
			dec := risk.Evaluate(*e.policy, risk.Request{
				SizeFraction:     in.SizeFraction,
				OpenPositions:    len(doc.Positions),
				ReferenceBalance: doc.CurrentBalance.Add(doc.OpenNotional()),
				Day:              e.day.Today(now),
			})
			if dec.Blocking() {
				for _, v := range dec.Violations {
					metrics.RiskRejections.WithLabelValues(v.Code).Inc()
				}
				res = OpenResult{Skip: SkipRisk, Detail: dec.Reason()}
				return ledger.ErrNoop
			}
		}

		balance := doc.CurrentBalance
		if !balance.IsPositive() {
			res = OpenResult{Skip: SkipNoBalance, Detail: "balance " + balance.String()}
			return ledger.ErrNoop
		}

		notional := market.RoundMoney(size.Mul(balance))
		rep := sim.SimulateFill(sim.Order{
			Side:         in.Side,
			Price:        in.Price,
			SizeFraction: size,
			Notional:     notional,
		}, e.cfg.Exec, e.rnd)
		if !rep.Filled() {
			res = OpenResult{Skip: SkipUnfilled, Report: rep}
			return ledger.ErrNoop
		}

		reserve := notional
		if e.cfg.ReleaseUnfilled {
			reserve = rep.ExecutedNotional
		}
		if reserve.Add(rep.Commission).GreaterThan(balance) {
			res = OpenResult{Skip: SkipNoBalance, Report: rep,
				Detail: fmt.Sprintf("need %s + fee %s, have %s", reserve, rep.Commission, balance)}
			return ledger.ErrNoop
		}

		pos := ledger.Position{
			ID:             id.NewAt(now),
			MarketID:       in.MarketID,
			EventTitle:     in.EventTitle,
			MarketQuestion: in.MarketQuestion,
			Side:           in.Side,
			EntryPrice:     rep.ExecutedPrice,
			SizeFraction:   rep.FillFraction.Mul(size),
			Notional:       reserve,
			Qty:            quantity(in.Side, reserve, rep.ExecutedPrice),
			Commission:     rep.Commission,
			OpenedAt:       now.UTC(),
		}

		doc.CurrentBalance = balance.Sub(reserve).Sub(rep.Commission)
		doc.FeesPaid = doc.FeesPaid.Add(rep.Commission)
		doc.Positions = append(doc.Positions, pos)

		res = OpenResult{Opened: true, Position: pos, Report: rep}
		return nil
	}, func() {
		if res.Opened {
			e.day.RecordOpen(now)
		}
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("open position: %w", err)
	}
	res.Balance = doc.CurrentBalance

	if !res.Opened {
		e.logSkip(in, res)
		return res, nil
	}

	metrics.TradesTotal.WithLabelValues(e.led.Name()).Inc()
	e.recordEquity(doc)
	e.log.Info().
		Str("id", res.Position.ID).
		Str("side", res.Position.Side.String()).
		Str("entry", res.Position.EntryPrice.String()).
		Str("notional", res.Position.Notional.String()).
		Str("fill", res.Report.FillFraction.String()).
		Str("fee", res.Report.Commission.String()).
		Str("balance", doc.CurrentBalance.String()).
		Msg("position opened")
	return res, nil
}

func (e *Engine) logSkip(in Intent, res OpenResult) {
	e.log.Info().
		Str("skip", res.Skip).
		Str("detail", res.Detail).
		Str("side", in.Side.String()).
		Str("price", in.Price.String()).
		Str("size", in.SizeFraction.String()).
		Msg("intent skipped")
}

// quantity is the display-only contract count.
func quantity(side market.Side, notional, entry decimal.Decimal) decimal.Decimal {
	denom := entry
	if side == market.Sell {
		denom = decimal.NewFromInt(1).Sub(entry)
	}
	if denom.LessThan(market.MinPrice) {
		denom = market.MinPrice
	}
	return notional.DivRound(denom, market.MoneyPlaces)
}

// trigger reports whether p should close at observed. Stop-loss is checked
// first so a gapped move that crosses both thresholds preserves capital.
// A non-positive threshold disables that side.
func (e *Engine) trigger(p ledger.Position, observed decimal.Decimal) (Reason, bool) {
	change := market.Change(p.Side, p.EntryPrice, observed)
	if e.cfg.StopLoss.IsPositive() && change.LessThanOrEqual(e.cfg.StopLoss.Neg()) {
		return ReasonStopLoss, true
	}
	if e.cfg.TakeProfit.IsPositive() && change.GreaterThanOrEqual(e.cfg.TakeProfit) {
		return ReasonTakeProfit, true
	}
	return "", false
}

// closeLocked realizes position i of doc at exit. It must run inside a
// ledger update.
func closeLocked(doc *ledger.Document, i int, exit decimal.Decimal, reason Reason, now time.Time) Closed {
	p := doc.Remove(i)
	exit = market.ClampPrice(exit)
	change := market.Change(p.Side, p.EntryPrice, exit)
	realized := market.RoundMoney(p.Notional.Mul(change))

	doc.CurrentBalance = doc.CurrentBalance.Add(p.Notional).Add(realized)
	doc.RealizedPnL = doc.RealizedPnL.Add(realized)
	doc.ClosedCount++

	return Closed{
		PositionID:  p.ID,
		MarketID:    p.MarketID,
		EventTitle:  p.EventTitle,
		Side:        p.Side,
		Notional:    p.Notional,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		Change:      change,
		RealizedPnL: realized,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    now.UTC(),
		Reason:      reason,
	}
}

// Close realizes position id at exit. Closing an id that is not open is a
// no-op reported as ok == false, so racing monitors can both try.
func (e *Engine) Close(ctx context.Context, positionID string, exit decimal.Decimal, reason Reason) (Closed, bool, error) {
	if reason == "" {
		reason = ReasonManual
	}
	now := e.now()

	var closed []Closed
	doc, err := e.commit(ctx, func(doc *ledger.Document) error {
		i := doc.Find(positionID)
		if i < 0 {
			return ledger.ErrNoop
		}
		closed = append(closed, closeLocked(doc, i, exit, reason, now))
		return nil
	}, e.recordCloses(&closed))
	if err != nil {
		return Closed{}, false, fmt.Errorf("close position %s: %w", positionID, err)
	}
	if len(closed) == 0 {
		e.log.Debug().Str("id", positionID).Msg("close ignored, position not open")
		return Closed{}, false, nil
	}

	e.afterClose(doc, closed)
	return closed[0], true, nil
}

// TickOne evaluates a single position against observed and closes it if a
// threshold is crossed.
func (e *Engine) TickOne(ctx context.Context, positionID string, observed decimal.Decimal) (Closed, bool, error) {
	now := e.now()
	observed = market.ClampPrice(observed)

	var closed []Closed
	doc, err := e.commit(ctx, func(doc *ledger.Document) error {
		i := doc.Find(positionID)
		if i < 0 {
			return ledger.ErrNoop
		}
		reason, hit := e.trigger(doc.Positions[i], observed)
		if !hit {
			return ledger.ErrNoop
		}
		closed = append(closed, closeLocked(doc, i, observed, reason, now))
		return nil
	}, e.recordCloses(&closed))
	if err != nil {
		return Closed{}, false, fmt.Errorf("tick position %s: %w", positionID, err)
	}
	if len(closed) == 0 {
		return Closed{}, false, nil
	}
	e.afterClose(doc, closed)
	return closed[0], true, nil
}

// observe asks prices for every open position. Positions whose price cannot
// be fetched are left out and their errors joined.
func (e *Engine) observe(ctx context.Context, prices PriceSource) (map[string]decimal.Decimal, error) {
	positions, err := e.led.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(positions))
	var errs []error
	for _, p := range positions {
		px, err := prices.Price(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("price %s: %w", p.ID, err))
			continue
		}
		out[p.ID] = market.ClampPrice(px)
	}
	return out, errors.Join(errs...)
}

// Tick evaluates every open position against prices and closes those that
// crossed a threshold, all in one ledger update. Prices are fetched before
// the ledger is locked; positions opened in between wait for the next tick.
// A price that cannot be fetched skips that position and is logged.
func (e *Engine) Tick(ctx context.Context, prices PriceSource) ([]Closed, error) {
	observed, perr := e.observe(ctx, prices)
	if perr != nil {
		e.log.Warn().Err(perr).Msg("tick: some prices unavailable")
	}
	if len(observed) == 0 {
		return nil, nil
	}
	now := e.now()

	var closed []Closed
	doc, err := e.commit(ctx, func(doc *ledger.Document) error {
		closed = closed[:0]
		for i := 0; i < len(doc.Positions); {
			p := doc.Positions[i]
			px, ok := observed[p.ID]
			if !ok {
				i++
				continue
			}
			reason, hit := e.trigger(p, px)
			if !hit {
				i++
				continue
			}
			closed = append(closed, closeLocked(doc, i, px, reason, now))
		}
		if len(closed) == 0 {
			return ledger.ErrNoop
		}
		return nil
	}, e.recordCloses(&closed))
	if err != nil {
		return nil, fmt.Errorf("tick: %w", err)
	}
	if len(closed) > 0 {
		e.afterClose(doc, closed)
	}
	return closed, nil
}

// CloseAll closes every open position at its observed price. Positions
// without a price stay open and are reported in the returned error.
func (e *Engine) CloseAll(ctx context.Context, prices PriceSource, reason Reason) ([]Closed, error) {
	if reason == "" {
		reason = ReasonCloseAll
	}
	observed, perr := e.observe(ctx, prices)
	now := e.now()

	var closed []Closed
	doc, err := e.commit(ctx, func(doc *ledger.Document) error {
		closed = closed[:0]
		for i := 0; i < len(doc.Positions); {
			px, ok := observed[doc.Positions[i].ID]
			if !ok {
				i++
				continue
			}
			closed = append(closed, closeLocked(doc, i, px, reason, now))
		}
		if len(closed) == 0 {
			return ledger.ErrNoop
		}
		return nil
	}, e.recordCloses(&closed))
	if err != nil {
		return nil, fmt.Errorf("close all: %w", err)
	}
	if len(closed) > 0 {
		e.afterClose(doc, closed)
	}
	return closed, perr
}

// afterClose runs once the ledger change is durable: journal, metrics, then
// listeners.
func (e *Engine) afterClose(doc ledger.Document, closed []Closed) {
	mode := e.led.Name()
	for i := range closed {
		c := &closed[i]
		c.Balance = doc.CurrentBalance

		if err := e.journal.RecordTrade(journal.TradeRecord{
			TradeID:    c.PositionID,
			Mode:       mode,
			MarketID:   c.MarketID,
			EventTitle: c.EventTitle,
			Side:       c.Side,
			Notional:   c.Notional,
			EntryPrice: c.EntryPrice,
			ExitPrice:  c.ExitPrice,
			OpenTime:   c.OpenedAt,
			CloseTime:  c.ClosedAt,
			RealizedPL: c.RealizedPnL,
			Reason:     string(c.Reason),
		}); err != nil {
			e.log.Error().Err(err).Str("id", c.PositionID).Msg("journal trade failed")
		}

		metrics.ClosesTotal.WithLabelValues(mode, string(c.Reason)).Inc()
		metrics.TradePnL.WithLabelValues(mode).Observe(c.RealizedPnL.InexactFloat64())

		e.log.Info().
			Str("id", c.PositionID).
			Str("reason", string(c.Reason)).
			Str("entry", c.EntryPrice.String()).
			Str("exit", c.ExitPrice.String()).
			Str("pnl", c.RealizedPnL.String()).
			Str("balance", doc.CurrentBalance.String()).
			Msg("position closed")
	}
	e.recordEquity(doc)

	e.mu.Lock()
	listeners := append([]ClosedListener(nil), e.listeners...)
	e.mu.Unlock()
	for _, c := range closed {
		for _, l := range listeners {
			l.OnPositionClosed(c)
		}
	}
}

// recordEquity journals the ledger valued at cost.
func (e *Engine) recordEquity(doc ledger.Document) {
	locked := doc.OpenNotional()
	err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:       doc.LastUpdated,
		Mode:       e.led.Name(),
		Balance:    doc.CurrentBalance,
		Locked:     locked,
		Unrealized: decimal.Zero,
		Equity:     doc.CurrentBalance.Add(locked),
	})
	if err != nil {
		e.log.Error().Err(err).Msg("journal equity failed")
	}
}
