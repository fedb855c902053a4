package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// RecordTrade inserts t. Re-recording the same trade id replaces the row, so
// a retried close never double counts.
func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO trades
		(trade_id, mode, market_id, event_title, side, notional, entry_price, exit_price, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Mode, t.MarketID, t.EventTitle, string(t.Side), t.Notional.String(),
		t.EntryPrice.String(), t.ExitPrice.String(), formatTime(t.OpenTime), formatTime(t.CloseTime),
		t.RealizedPL.String(), t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, mode, balance, locked, unrealized, equity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(e.Time), e.Mode, e.Balance.String(), e.Locked.String(),
		e.Unrealized.String(), e.Equity.String(),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
