package journal

import (
	"math"

	"github.com/shopspring/decimal"
)

// Stats summarizes a run of closed trades.
type Stats struct {
	Trades       int             `json:"total_trades"`
	Wins         int             `json:"winning_trades"`
	Losses       int             `json:"losing_trades"`
	WinRate      float64         `json:"win_rate"` // 0..1
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	AvgPnL       decimal.Decimal `json:"avg_pnl"`
	MaxProfit    decimal.Decimal `json:"max_profit"`
	MaxLoss      decimal.Decimal `json:"max_loss"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`    // positive
	ProfitFactor float64         `json:"profit_factor"` // +Inf when there are no losses
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`  // on cumulative PnL
	Volatility   float64         `json:"pnl_volatility"`
	Sharpe       float64         `json:"sharpe_ratio"` // mean / stdev per trade
}

// ComputeStats derives Stats from trades in close order.
func ComputeStats(trades []TradeRecord) Stats {
	s := Stats{}
	if len(trades) == 0 {
		return s
	}

	var cum, peak decimal.Decimal
	pnls := make([]float64, 0, len(trades))
	for i, t := range trades {
		pl := t.RealizedPL
		s.Trades++
		s.TotalPnL = s.TotalPnL.Add(pl)
		switch {
		case pl.IsPositive():
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(pl)
		case pl.IsNegative():
			s.Losses++
			s.GrossLoss = s.GrossLoss.Sub(pl)
		}
		if i == 0 || pl.GreaterThan(s.MaxProfit) {
			s.MaxProfit = pl
		}
		if i == 0 || pl.LessThan(s.MaxLoss) {
			s.MaxLoss = pl
		}

		cum = cum.Add(pl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
		pnls = append(pnls, pl.InexactFloat64())
	}

	n := decimal.NewFromInt(int64(s.Trades))
	s.AvgPnL = s.TotalPnL.Div(n)
	s.WinRate = float64(s.Wins) / float64(s.Trades)

	switch {
	case s.GrossLoss.IsPositive():
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss).InexactFloat64()
	case s.GrossProfit.IsPositive():
		s.ProfitFactor = math.Inf(1)
	}

	if len(pnls) > 1 {
		mean := s.AvgPnL.InexactFloat64()
		var ss float64
		for _, v := range pnls {
			ss += (v - mean) * (v - mean)
		}
		s.Volatility = math.Sqrt(ss / float64(len(pnls)-1))
		if s.Volatility > 0 {
			s.Sharpe = mean / s.Volatility
		}
	}
	return s
}
