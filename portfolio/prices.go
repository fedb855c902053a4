package portfolio

import (
	"context"

	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

// PriceSource returns the currently observed probability for an open
// position.
type PriceSource interface {
	Price(ctx context.Context, p ledger.Position) (decimal.Decimal, error)
}

type PriceFunc func(ctx context.Context, p ledger.Position) (decimal.Decimal, error)

func (f PriceFunc) Price(ctx context.Context, p ledger.Position) (decimal.Decimal, error) {
	return f(ctx, p)
}

// FixedPrice observes the same price for every position.
func FixedPrice(px decimal.Decimal) PriceSource {
	return PriceFunc(func(context.Context, ledger.Position) (decimal.Decimal, error) {
		return px, nil
	})
}

// TickPrices looks positions up by market id in ts.
func TickPrices(ts *market.TickStore) PriceSource {
	return PriceFunc(func(_ context.Context, p ledger.Position) (decimal.Decimal, error) {
		t, err := ts.Get(p.MarketID)
		if err != nil {
			return decimal.Zero, err
		}
		return t.Price, nil
	})
}
