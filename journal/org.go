package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode block suitable for pasting into a journal.
// Structured facts live in the PROPERTIES drawer; the headings below are left for notes.
func FormatTradeOrg(t TradeRecord) string {
	label := t.EventTitle
	if label == "" {
		label = t.MarketID
	}
	if label == "" {
		label = "market"
	}
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Side, label, shortID(t.TradeID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":ID: %s\n", t.TradeID)
	if t.Mode != "" {
		fmt.Fprintf(&b, ":MODE: %s\n", t.Mode)
	}
	if t.MarketID != "" {
		fmt.Fprintf(&b, ":MARKET_ID: %s\n", t.MarketID)
	}
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":NOTIONAL: %s\n", t.Notional.StringFixed(2))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", t.EntryPrice.StringFixed(4))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", t.ExitPrice.StringFixed(4))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", open)
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", close)
	fmt.Fprintf(&b, ":REALIZED_PL: %s\n", t.RealizedPL.StringFixed(2))
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
