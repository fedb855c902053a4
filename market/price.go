package market

import "github.com/shopspring/decimal"

// Probability prices are quoted in [0,1] but positions only ever open or
// close inside [MinPrice, MaxPrice].
var (
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.RequireFromString("0.99")

	bpsDivisor = decimal.NewFromInt(10000)
)

func init() {
	// Ledger documents and API payloads carry amounts as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// ClampPrice forces p into [MinPrice, MaxPrice].
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

// ValidQuote reports whether p is a usable probability quote, i.e. strictly
// inside (0, 1).
func ValidQuote(p decimal.Decimal) bool {
	return p.IsPositive() && p.LessThan(decimal.NewFromInt(1))
}

// Change is the directional price move of a position from entry to observed.
// BUY:  observed - entry
// SELL: (1 - observed) - (1 - entry)
func Change(side Side, entry, observed decimal.Decimal) decimal.Decimal {
	if side == Sell {
		one := decimal.NewFromInt(1)
		return one.Sub(observed).Sub(one.Sub(entry))
	}
	return observed.Sub(entry)
}

// Bps converts basis points into a fraction (25 bps -> 0.0025).
func Bps(bps decimal.Decimal) decimal.Decimal {
	return bps.Div(bpsDivisor)
}

// MoneyPlaces is the precision currency amounts are rounded to when they are
// first computed. Sums of rounded amounts stay exact.
const MoneyPlaces = 8

func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyPlaces)
}
