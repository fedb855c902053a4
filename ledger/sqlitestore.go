package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/polytrader/market"
	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	current_balance TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	fees_paid TEXT NOT NULL,
	closed_count INTEGER NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	market_id TEXT NOT NULL,
	event_title TEXT NOT NULL,
	market_question TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	size_fraction TEXT NOT NULL,
	notional TEXT NOT NULL,
	qty TEXT NOT NULL,
	commission TEXT NOT NULL,
	opened_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_seq ON positions(seq);
`

// SQLiteStore keeps the ledger in a SQLite database. Every Save rewrites the
// ledger row and the position set inside one IMMEDIATE transaction, which is
// also the cross-process write lock.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=100&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Read(ctx context.Context) (Document, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Document{}, sqliteErr(err)
	}
	defer conn.Close()

	// A deferred transaction pins one WAL snapshot for both queries, so the
	// balance and the position set always come from the same commit.
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return Document{}, sqliteErr(err)
	}
	defer conn.ExecContext(context.Background(), "ROLLBACK")
	return loadSQLite(ctx, conn)
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sqliteErr(err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) Load(ctx context.Context) (Document, error) {
	return loadSQLite(ctx, t.tx)
}

func (t *sqliteTx) Save(ctx context.Context, d Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger (id, current_balance, initial_balance, realized_pnl, fees_paid, closed_count, last_updated)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_balance = excluded.current_balance,
			initial_balance = excluded.initial_balance,
			realized_pnl = excluded.realized_pnl,
			fees_paid = excluded.fees_paid,
			closed_count = excluded.closed_count,
			last_updated = excluded.last_updated`,
		d.CurrentBalance.String(), d.InitialBalance.String(), d.RealizedPnL.String(),
		d.FeesPaid.String(), d.ClosedCount, d.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return sqliteErr(err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return sqliteErr(err)
	}
	for i, p := range d.Positions {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO positions
			(id, seq, market_id, event_title, market_question, side, entry_price, size_fraction, notional, qty, commission, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, i, p.MarketID, p.EventTitle, p.MarketQuestion, string(p.Side),
			p.EntryPrice.String(), p.SizeFraction.String(), p.Notional.String(),
			p.Qty.String(), p.Commission.String(), p.OpenedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return sqliteErr(err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return sqliteErr(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSQLite(ctx context.Context, q querier) (Document, error) {
	var d Document
	var balance, initial, realized, fees, lastUpdated string
	err := q.QueryRowContext(ctx, `
		SELECT current_balance, initial_balance, realized_pnl, fees_paid, closed_count, last_updated
		FROM ledger WHERE id = 1`).Scan(&balance, &initial, &realized, &fees, &d.ClosedCount, &lastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, sqliteErr(err)
	}

	var perr error
	d.CurrentBalance = parseDec(balance, &perr)
	d.InitialBalance = parseDec(initial, &perr)
	d.RealizedPnL = parseDec(realized, &perr)
	d.FeesPaid = parseDec(fees, &perr)
	if d.LastUpdated, err = parseTime(lastUpdated); err != nil && perr == nil {
		perr = err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, market_id, event_title, market_question, side, entry_price, size_fraction, notional, qty, commission, opened_at
		FROM positions ORDER BY seq ASC`)
	if err != nil {
		return Document{}, sqliteErr(err)
	}
	defer rows.Close()

	d.Positions = []Position{}
	for rows.Next() {
		var p Position
		var side, entry, size, notional, qty, fee, opened string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.EventTitle, &p.MarketQuestion, &side,
			&entry, &size, &notional, &qty, &fee, &opened); err != nil {
			return Document{}, sqliteErr(err)
		}
		p.Side = market.Side(side)
		p.EntryPrice = parseDec(entry, &perr)
		p.SizeFraction = parseDec(size, &perr)
		p.Notional = parseDec(notional, &perr)
		p.Qty = parseDec(qty, &perr)
		p.Commission = parseDec(fee, &perr)
		if p.OpenedAt, err = parseTime(opened); err != nil && perr == nil {
			perr = err
		}
		d.Positions = append(d.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return Document{}, sqliteErr(err)
	}

	if perr != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, perr)
	}
	if err := d.validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return d, nil
}

// parseDec records the first parse failure in *errp and returns zero.
func parseDec(s string, errp *error) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && *errp == nil {
		*errp = err
	}
	return v
}

// sqliteErr maps busy/locked database errors onto ErrLocked so they are
// retried like a held file lock.
func sqliteErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return err
}
