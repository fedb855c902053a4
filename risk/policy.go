package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Policy holds the per-account limits applied before a position is opened.
// Zero integer limits disable that check.
type Policy struct {
	MaxPositionSize decimal.Decimal `json:"max_position_size" yaml:"max_position_size"` // fraction of balance, (0,1]
	RiskPerTrade    decimal.Decimal `json:"risk_per_trade" yaml:"risk_per_trade"`       // base size before confidence scaling

	// Circuit breakers
	MaxDailyTrades int             `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxDailyLoss   decimal.Decimal `json:"max_daily_loss" yaml:"max_daily_loss"` // fraction of reference balance

	// Exposure
	MaxOpenPositions int `json:"max_open_positions" yaml:"max_open_positions"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPositionSize:  decimal.RequireFromString("0.1"),
		RiskPerTrade:     decimal.RequireFromString("0.02"),
		MaxDailyTrades:   10,
		MaxDailyLoss:     decimal.RequireFromString("0.1"),
		MaxOpenPositions: 0,
	}
}

func (p Policy) Validate() error {
	one := decimal.NewFromInt(1)
	if !p.MaxPositionSize.IsPositive() || p.MaxPositionSize.GreaterThan(one) {
		return errors.New("risk: max_position_size must be in (0,1]")
	}
	if p.RiskPerTrade.IsNegative() || p.RiskPerTrade.GreaterThan(one) {
		return errors.New("risk: risk_per_trade must be in [0,1]")
	}
	if p.MaxDailyTrades < 0 || p.MaxOpenPositions < 0 {
		return errors.New("risk: limits must not be negative")
	}
	if p.MaxDailyLoss.IsNegative() || p.MaxDailyLoss.GreaterThan(one) {
		return errors.New("risk: max_daily_loss must be in [0,1]")
	}
	return nil
}
