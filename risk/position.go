package risk

import "github.com/shopspring/decimal"

// PositionSize derives a size fraction from the policy's risk per trade
// scaled by the advisor's confidence, capped at MaxPositionSize and rounded
// down to 4 places.
func PositionSize(p Policy, confidence decimal.Decimal) decimal.Decimal {
	if confidence.IsNegative() {
		confidence = decimal.Zero
	}
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}
	size := p.RiskPerTrade.Mul(confidence)
	if p.MaxPositionSize.IsPositive() && size.GreaterThan(p.MaxPositionSize) {
		size = p.MaxPositionSize
	}
	return size.RoundDown(4)
}
