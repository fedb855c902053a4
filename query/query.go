// Package query is the read-only view of a ledger used by reporting and
// notification code. Every call works on a snapshot copy and never takes the
// ledger write lock.
package query

import (
	"context"
	"time"

	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/shopspring/decimal"
)

type Facade struct {
	led *ledger.Ledger
}

func New(l *ledger.Ledger) *Facade {
	return &Facade{led: l}
}

func (f *Facade) Balance(ctx context.Context) (decimal.Decimal, error) {
	return f.led.Balance(ctx)
}

func (f *Facade) Positions(ctx context.Context) ([]ledger.Position, error) {
	return f.led.Positions(ctx)
}

// PositionValue is one open position marked at an observed price.
type PositionValue struct {
	ledger.Position
	Observed   decimal.Decimal `json:"observed_price"`
	Change     decimal.Decimal `json:"price_change"`
	Unrealized decimal.Decimal `json:"unrealized_pnl"`
}

// MTM values the open book without closing anything. Equity is balance plus
// locked notional plus unrealized PnL.
type MTM struct {
	Count      int             `json:"open_positions"`
	Unrealized decimal.Decimal `json:"unrealized_pnl"`
	Balance    decimal.Decimal `json:"balance"`
	Locked     decimal.Decimal `json:"locked"`
	Equity     decimal.Decimal `json:"equity"`
	Positions  []PositionValue `json:"positions"`
}

// MarkToMarket values every open position at the single observed price.
func (f *Facade) MarkToMarket(ctx context.Context, observed decimal.Decimal) (MTM, error) {
	return f.MarkToMarketWith(ctx, portfolio.FixedPrice(observed))
}

// MarkToMarketWith asks prices for each position. A position without a
// price is valued at its entry price, i.e. zero unrealized PnL.
func (f *Facade) MarkToMarketWith(ctx context.Context, prices portfolio.PriceSource) (MTM, error) {
	doc, err := f.led.Snapshot(ctx)
	if err != nil {
		return MTM{}, err
	}
	return mark(ctx, doc, prices), nil
}

func mark(ctx context.Context, doc ledger.Document, prices portfolio.PriceSource) MTM {
	m := MTM{
		Count:      len(doc.Positions),
		Unrealized: decimal.Zero,
		Balance:    doc.CurrentBalance,
		Locked:     doc.OpenNotional(),
		Positions:  make([]PositionValue, 0, len(doc.Positions)),
	}
	for _, p := range doc.Positions {
		px, err := prices.Price(ctx, p)
		if err != nil {
			px = p.EntryPrice
		}
		px = market.ClampPrice(px)
		change := market.Change(p.Side, p.EntryPrice, px)
		u := market.RoundMoney(p.Notional.Mul(change))
		m.Unrealized = m.Unrealized.Add(u)
		m.Positions = append(m.Positions, PositionValue{
			Position:   p,
			Observed:   px,
			Change:     change,
			Unrealized: u,
		})
	}
	m.Equity = m.Balance.Add(m.Locked).Add(m.Unrealized)
	return m
}

// Summary is the whole ledger at a glance.
type Summary struct {
	Balance        decimal.Decimal   `json:"current_balance"`
	InitialBalance decimal.Decimal   `json:"initial_balance"`
	Locked         decimal.Decimal   `json:"locked"`
	RealizedPnL    decimal.Decimal   `json:"realized_pnl"`
	FeesPaid       decimal.Decimal   `json:"fees_paid"`
	ClosedCount    int               `json:"closed_count"`
	Positions      []ledger.Position `json:"positions"`
	LastUpdated    string            `json:"last_updated"`
}

// ReturnPct is net change over the initial balance, in percent, with open
// positions at cost.
func (s Summary) ReturnPct() decimal.Decimal {
	if !s.InitialBalance.IsPositive() {
		return decimal.Zero
	}
	net := s.Balance.Add(s.Locked).Sub(s.InitialBalance)
	return net.Div(s.InitialBalance).Shift(2).Round(2)
}

func (f *Facade) Summary(ctx context.Context) (Summary, error) {
	doc, err := f.led.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Balance:        doc.CurrentBalance,
		InitialBalance: doc.InitialBalance,
		Locked:         doc.OpenNotional(),
		RealizedPnL:    doc.RealizedPnL,
		FeesPaid:       doc.FeesPaid,
		ClosedCount:    doc.ClosedCount,
		Positions:      doc.Positions,
		LastUpdated:    doc.LastUpdated.UTC().Format(time.RFC3339),
	}, nil
}
