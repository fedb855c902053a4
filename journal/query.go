package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

const tradeColumns = `trade_id, mode, market_id, event_title, side, notional, entry_price, exit_price, open_time, close_time, realized_pl, reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (TradeRecord, error) {
	var rec TradeRecord
	var side, notional, entry, exit, openT, closeT, pl string
	if err := r.Scan(&rec.TradeID, &rec.Mode, &rec.MarketID, &rec.EventTitle, &side,
		&notional, &entry, &exit, &openT, &closeT, &pl, &rec.Reason); err != nil {
		return TradeRecord{}, err
	}
	rec.Side = market.Side(side)

	var err error
	if rec.Notional, err = decimal.NewFromString(notional); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s notional: %w", rec.TradeID, err)
	}
	if rec.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s entry_price: %w", rec.TradeID, err)
	}
	if rec.ExitPrice, err = decimal.NewFromString(exit); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s exit_price: %w", rec.TradeID, err)
	}
	if rec.RealizedPL, err = decimal.NewFromString(pl); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s realized_pl: %w", rec.TradeID, err)
	}
	if rec.OpenTime, err = time.Parse(timeLayout, openT); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s open_time: %w", rec.TradeID, err)
	}
	if rec.CloseTime, err = time.Parse(timeLayout, closeT); err != nil {
		return TradeRecord{}, fmt.Errorf("trade %s close_time: %w", rec.TradeID, err)
	}
	return rec, nil
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("%w: %q", ErrTradeNotFound, tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTrades returns every trade in close order.
func (j *SQLite) ListTrades() ([]TradeRecord, error) {
	return j.ListTradesClosedBetween(time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
}

// ListEquityBetween returns snapshots taken within [start, end).
func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, mode, balance, locked, unrealized, equity
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		var ts, bal, locked, unreal, eq string
		if err := rows.Scan(&ts, &e.Mode, &bal, &locked, &unreal, &eq); err != nil {
			return nil, err
		}
		if e.Time, err = time.Parse(timeLayout, ts); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&e.Balance, bal}, {&e.Locked, locked}, {&e.Unrealized, unreal}, {&e.Equity, eq}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
