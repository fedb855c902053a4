package journal

import (
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	open := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	close := time.Date(2024, 3, 15, 14, 20, 30, 0, time.UTC)

	rec := TradeRecord{
		TradeID:    "01HX3ABCDEFGH",
		Mode:       "paper",
		MarketID:   "0xabc",
		EventTitle: "Fed cuts in March",
		Side:       market.Sell,
		Notional:   d("12.5"),
		EntryPrice: d("0.62"),
		ExitPrice:  d("0.55"),
		OpenTime:   open,
		CloseTime:  close,
		RealizedPL: d("0.875"),
		Reason:     "TakeProfit",
	}

	result := FormatTradeOrg(rec)

	assert.Contains(t, result, "** Trade: SELL Fed cuts in March (01HX3ABC)")
	assert.Contains(t, result, ":PROPERTIES:")
	assert.Contains(t, result, ":TRADE_ID: 01HX3ABCDEFGH")
	assert.Contains(t, result, ":MODE: paper")
	assert.Contains(t, result, ":MARKET_ID: 0xabc")
	assert.Contains(t, result, ":NOTIONAL: 12.50")
	assert.Contains(t, result, ":ENTRY_PRICE: 0.6200")
	assert.Contains(t, result, ":EXIT_PRICE: 0.5500")
	assert.Contains(t, result, ":OPEN_TIME: 2024-03-15T10:30:45Z")
	assert.Contains(t, result, ":CLOSE_TIME: 2024-03-15T14:20:30Z")
	assert.Contains(t, result, ":REALIZED_PL: 0.88")
	assert.Contains(t, result, ":REASON: TakeProfit")
	assert.Contains(t, result, ":END:")

	assert.Contains(t, result, "*** Thesis")
	assert.Contains(t, result, "*** Execution")
	assert.Contains(t, result, "*** Review")
}

func TestFormatTradeOrgFallsBackToMarketID(t *testing.T) {
	t.Parallel()

	rec := trade("short", "1", time.Now())
	rec.EventTitle = ""
	result := FormatTradeOrg(rec)
	assert.Contains(t, result, "** Trade: BUY mkt-short (short)")
}

func TestFormatTradeOrgNegativePL(t *testing.T) {
	t.Parallel()

	rec := trade("loss", "-1.2", time.Now())
	assert.Contains(t, FormatTradeOrg(rec), ":REALIZED_PL: -1.20")
}

func TestFormatTradesOrg(t *testing.T) {
	t.Parallel()

	now := time.Now()
	out := FormatTradesOrg([]TradeRecord{trade("A", "1", now), trade("B", "2", now)})
	require.Equal(t, 2, strings.Count(out, "** Trade:"))
	assert.Contains(t, out, ":END:\n\n*** Thesis")
	assert.Less(t, strings.Index(out, "(A)"), strings.Index(out, "(B)"))

	assert.Equal(t, "", FormatTradesOrg(nil))
}
