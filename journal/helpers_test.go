package journal

import (
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(id string, pl string, closeAt time.Time) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Mode:       "paper",
		MarketID:   "mkt-" + id,
		EventTitle: "Election",
		Side:       market.Buy,
		Notional:   d("20"),
		EntryPrice: d("0.40"),
		ExitPrice:  d("0.60"),
		OpenTime:   closeAt.Add(-time.Hour),
		CloseTime:  closeAt,
		RealizedPL: d(pl),
		Reason:     "TakeProfit",
	}
}
