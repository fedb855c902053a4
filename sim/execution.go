// Package sim models execution of trade intents against a probability
// market: adverse slippage, partial fills and commission. Nothing here
// touches the ledger.
package sim

import (
	"math"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

// Order is what the position engine asks the simulator to fill.
type Order struct {
	Side         market.Side
	Price        decimal.Decimal // quoted probability
	SizeFraction decimal.Decimal // already clamped
	Notional     decimal.Decimal // intended notional
}

type ExecConfig struct {
	CommissionBps decimal.Decimal `json:"commission_bps" yaml:"commission_bps"`
	SlippageBps   decimal.Decimal `json:"slippage_bps" yaml:"slippage_bps"`
	MinFill       decimal.Decimal `json:"min_fill" yaml:"min_fill"`
	MaxFill       decimal.Decimal `json:"max_fill" yaml:"max_fill"`
}

// DefaultExecConfig is the paper-trading model: 10 bps commission, 20 bps
// slippage, fills uniform in [0.6, 1.0].
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		CommissionBps: decimal.NewFromInt(10),
		SlippageBps:   decimal.NewFromInt(20),
		MinFill:       decimal.RequireFromString("0.6"),
		MaxFill:       decimal.NewFromInt(1),
	}
}

// PerfectExecConfig fills everything at the quoted price for free.
func PerfectExecConfig() ExecConfig {
	return ExecConfig{
		CommissionBps: decimal.Zero,
		SlippageBps:   decimal.Zero,
		MinFill:       decimal.NewFromInt(1),
		MaxFill:       decimal.NewFromInt(1),
	}
}

var (
	minFillFloor = decimal.RequireFromString("0.1")
	one          = decimal.NewFromInt(1)
)

// Normalize forces the fill range into 0.1 <= MinFill <= MaxFill <= 1 and
// negative bps to zero.
func (c ExecConfig) Normalize() ExecConfig {
	c.MinFill = decimal.Max(minFillFloor, decimal.Min(c.MinFill, one))
	c.MaxFill = decimal.Max(c.MinFill, decimal.Min(c.MaxFill, one))
	if c.CommissionBps.IsNegative() {
		c.CommissionBps = decimal.Zero
	}
	if c.SlippageBps.IsNegative() {
		c.SlippageBps = decimal.Zero
	}
	return c
}

// Report is the outcome of one simulated fill.
type Report struct {
	ExecutedPrice    decimal.Decimal
	FillFraction     decimal.Decimal
	Commission       decimal.Decimal
	ExecutedNotional decimal.Decimal
	IntendedNotional decimal.Decimal
}

// Filled reports whether any notional executed.
func (r Report) Filled() bool { return r.ExecutedNotional.IsPositive() }

// SimulateFill fills o under cfg using rnd for the partial-fill draw.
// Invalid orders produce a zero-effect report, never an error.
func SimulateFill(o Order, cfg ExecConfig, rnd Source) Report {
	if !o.Side.Valid() || !o.SizeFraction.IsPositive() || !o.Notional.IsPositive() {
		return Report{ExecutedPrice: o.Price}
	}
	cfg = cfg.Normalize()

	slip := market.Bps(cfg.SlippageBps)
	var px decimal.Decimal
	if o.Side == market.Buy {
		px = decimal.Min(market.MaxPrice, o.Price.Add(slip))
	} else {
		px = decimal.Max(market.MinPrice, o.Price.Sub(slip))
	}
	px = market.ClampPrice(px)

	fill := cfg.MinFill
	if span := cfg.MaxFill.Sub(cfg.MinFill); span.IsPositive() {
		fill = fill.Add(span.Mul(draw(rnd))).Round(6)
	}

	executed := market.RoundMoney(o.Notional.Mul(fill))
	fee := market.RoundMoney(executed.Mul(market.Bps(cfg.CommissionBps)))

	return Report{
		ExecutedPrice:    px,
		FillFraction:     fill,
		Commission:       fee,
		ExecutedNotional: executed,
		IntendedNotional: o.Notional,
	}
}

// draw returns a decimal in [0, 1], tolerating sources that misbehave.
func draw(rnd Source) decimal.Decimal {
	if rnd == nil {
		return one
	}
	v := rnd.Float64()
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return decimal.NewFromFloat(v)
}
