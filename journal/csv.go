package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	tradeHeader  = []string{"trade_id", "mode", "market_id", "side", "notional", "entry_price", "exit_price", "open_time", "close_time", "realized_pnl", "reason"}
	equityHeader = []string{"time", "mode", "balance", "locked", "unrealized", "equity"}
)

// CSVJournal appends to a trades file and an equity file. Headers are only
// written when a file is new, so several runs share one history.
type CSVJournal struct {
	mu     sync.Mutex
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	w := csv.NewWriter(f)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if fi.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	return f, w, nil
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, tw, err := openCSV(tradesPath, tradeHeader)
	if err != nil {
		return nil, err
	}
	ef, ew, err := openCSV(equityPath, equityHeader)
	if err != nil {
		tf.Close()
		return nil, err
	}
	return &CSVJournal{trades: tw, equity: ew, tf: tf, ef: ef}, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.trades.Write([]string{
		t.TradeID,
		t.Mode,
		t.MarketID,
		string(t.Side),
		t.Notional.String(),
		t.EntryPrice.String(),
		t.ExitPrice.String(),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		t.RealizedPL.String(),
		t.Reason,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.equity.Write([]string{
		e.Time.UTC().Format(time.RFC3339),
		e.Mode,
		e.Balance.String(),
		e.Locked.String(),
		e.Unrealized.String(),
		e.Equity.String(),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}
