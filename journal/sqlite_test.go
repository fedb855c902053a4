package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
}

func TestSQLiteRecordAndGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	closeT := time.Date(2024, 1, 2, 4, 5, 6, 789, time.UTC)
	want := trade("T1", "4", closeT)
	require.NoError(t, j.RecordTrade(want))

	got, err := j.GetTrade("T1")
	require.NoError(t, err)

	assert.Equal(t, want.TradeID, got.TradeID)
	assert.Equal(t, want.Mode, got.Mode)
	assert.Equal(t, want.MarketID, got.MarketID)
	assert.Equal(t, want.Side, got.Side)
	assert.True(t, want.Notional.Equal(got.Notional))
	assert.True(t, want.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, want.ExitPrice.Equal(got.ExitPrice))
	assert.True(t, want.RealizedPL.Equal(got.RealizedPL))
	assert.True(t, want.OpenTime.Equal(got.OpenTime))
	assert.True(t, want.CloseTime.Equal(got.CloseTime))
	assert.Equal(t, want.Reason, got.Reason)
}

func TestSQLiteRecordTradeIsIdempotent(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("T1", "4", now)))
	require.NoError(t, j.RecordTrade(trade("T1", "4", now)))

	all, err := j.ListTrades()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetTrade("nonexistent")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	// Inserted out of order on purpose.
	require.NoError(t, j.RecordTrade(trade("late", "1", base.Add(30*time.Hour))))
	require.NoError(t, j.RecordTrade(trade("b", "-2", base.Add(9*time.Hour+500*time.Millisecond))))
	require.NoError(t, j.RecordTrade(trade("a", "3", base.Add(9*time.Hour))))
	require.NoError(t, j.RecordTrade(trade("early", "1", base.Add(-time.Hour))))

	got, err := j.ListTradesClosedBetween(base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TradeID)
	assert.Equal(t, "b", got[1].TradeID)

	// End is exclusive.
	got, err = j.ListTradesClosedBetween(base, base.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEquityBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	for i, bal := range []string{"100", "80", "84"} {
		require.NoError(t, j.RecordEquity(EquitySnapshot{
			Time:       base.Add(time.Duration(i) * time.Minute),
			Mode:       "dry_run",
			Balance:    d(bal),
			Locked:     d("0"),
			Unrealized: d("0"),
			Equity:     d(bal),
		}))
	}

	got, err := j.ListEquityBetween(base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Balance.Equal(d("100")))
	assert.True(t, got[1].Equity.Equal(d("80")))
	assert.Equal(t, "dry_run", got[1].Mode)
	assert.True(t, got[1].Time.Equal(base.Add(time.Minute)))
}
