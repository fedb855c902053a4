package sim

import (
	"context"

	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

// DefaultWalkWidth bounds a single random-walk step around the entry price.
var DefaultWalkWidth = decimal.RequireFromString("0.08")

// RandomWalk stands in for a live quote when no market data feed is wired:
// each observation is entry + uniform(-Width, Width), clamped to the tradable
// price band.
type RandomWalk struct {
	Width  decimal.Decimal
	Source Source
}

func NewRandomWalk(width decimal.Decimal, src Source) *RandomWalk {
	if !width.IsPositive() {
		width = DefaultWalkWidth
	}
	if src == nil {
		src = NewSource(0)
	}
	return &RandomWalk{Width: width, Source: src}
}

func (w *RandomWalk) Price(ctx context.Context, p ledger.Position) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	// 2u-1 maps [0,1] onto [-1,1].
	step := w.Width.Mul(draw(w.Source).Mul(decimal.NewFromInt(2)).Sub(one))
	return market.ClampPrice(p.EntryPrice.Add(step)), nil
}
