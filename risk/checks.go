package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CodeDailyTradeLimit = "DAILY_TRADE_LIMIT"
	CodeDailyLossLimit  = "DAILY_LOSS_LIMIT"
	CodeTooManyOpen     = "TOO_MANY_OPEN_POSITIONS"
	CodeSizeOverMax     = "SIZE_OVER_MAX"
)

type Violation struct {
	Code string
	Msg  string
}

func (v Violation) String() string { return v.Code + ": " + v.Msg }

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation codes, or returns "" when allowed.
func (d Decision) Reason() string {
	s := ""
	for i, v := range d.Violations {
		if i > 0 {
			s += ","
		}
		s += v.Code
	}
	return s
}

// Request describes the account at the moment a trade is proposed.
type Request struct {
	SizeFraction  decimal.Decimal // pre-clamp size from the intent
	OpenPositions int
	// ReferenceBalance is what the daily loss limit is measured against,
	// normally the balance at the start of the day.
	ReferenceBalance decimal.Decimal
	Day              DayStats
}

// Evaluate applies p to r. Oversized intents are flagged but the caller
// decides whether to clamp or reject them.
func Evaluate(p Policy, r Request) Decision {
	d := Decision{Allowed: true}

	if p.MaxDailyTrades > 0 && r.Day.Trades >= p.MaxDailyTrades {
		d.add(CodeDailyTradeLimit,
			fmt.Sprintf("trades today %d >= max %d", r.Day.Trades, p.MaxDailyTrades))
	}

	if p.MaxDailyLoss.IsPositive() && r.ReferenceBalance.IsPositive() && r.Day.PnL.IsNegative() {
		lossPct := r.Day.PnL.Neg().Div(r.ReferenceBalance)
		if lossPct.GreaterThanOrEqual(p.MaxDailyLoss) {
			d.add(CodeDailyLossLimit,
				fmt.Sprintf("day loss %s%% >= limit %s%%",
					lossPct.Shift(2).StringFixed(2), p.MaxDailyLoss.Shift(2).StringFixed(2)))
		}
	}

	if p.MaxOpenPositions > 0 && r.OpenPositions >= p.MaxOpenPositions {
		d.add(CodeTooManyOpen,
			fmt.Sprintf("open positions %d >= max %d", r.OpenPositions, p.MaxOpenPositions))
	}

	if p.MaxPositionSize.IsPositive() && r.SizeFraction.GreaterThan(p.MaxPositionSize) {
		d.add(CodeSizeOverMax,
			fmt.Sprintf("size %s > max %s", r.SizeFraction, p.MaxPositionSize))
	}

	return d
}

// Blocking reports whether any violation other than SIZE_OVER_MAX is present.
// Oversized intents are clamped rather than refused.
func (d Decision) Blocking() bool {
	for _, v := range d.Violations {
		if v.Code != CodeSizeOverMax {
			return true
		}
	}
	return false
}
