package journal

import "time"

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	market_id TEXT NOT NULL,
	event_title TEXT NOT NULL,
	side TEXT NOT NULL,
	notional TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	open_time TEXT NOT NULL,
	close_time TEXT NOT NULL,
	realized_pl TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time TEXT NOT NULL,
	mode TEXT NOT NULL,
	balance TEXT NOT NULL,
	locked TEXT NOT NULL,
	unrealized TEXT NOT NULL,
	equity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }
