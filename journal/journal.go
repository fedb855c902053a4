// Package journal records closed positions and balance snapshots for later
// review. It is an audit trail only; the ledger remains the source of truth.
package journal

import (
	"errors"
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

var ErrTradeNotFound = errors.New("journal: trade not found")

// TradeRecord is one closed position.
type TradeRecord struct {
	TradeID    string          `json:"trade_id"`
	Mode       string          `json:"mode,omitempty"`
	MarketID   string          `json:"market_id,omitempty"`
	EventTitle string          `json:"event_title,omitempty"`
	Side       market.Side     `json:"side"`
	Notional   decimal.Decimal `json:"notional"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	RealizedPL decimal.Decimal `json:"realized_pnl"`
	Reason     string          `json:"reason"`
}

// EquitySnapshot values the ledger at a point in time.
type EquitySnapshot struct {
	Time       time.Time       `json:"time"`
	Mode       string          `json:"mode,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	Locked     decimal.Decimal `json:"locked"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Equity     decimal.Decimal `json:"equity"`
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) Close() error { return nil }

// Multi fans every record out to all journals. Every journal is attempted;
// the errors are joined.
type Multi []Journal

func (m Multi) RecordTrade(t TradeRecord) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordTrade(t))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordEquity(e EquitySnapshot) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.RecordEquity(e))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
