package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "ledger.db")
	s := newTestSQLiteStore(t, path)

	_, err := s.Read(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	l, st := openTestLedger(t, s)
	assert.Equal(t, StatusInitialized, st)

	_, err = l.Update(ctx, func(doc *Document) error {
		doc.Positions = append(doc.Positions, testPosition("b", "20"), testPosition("a", "10"))
		doc.CurrentBalance = doc.CurrentBalance.Sub(d("30"))
		return nil
	})
	require.NoError(t, err)

	reopened := newTestSQLiteStore(t, path)
	doc, err := reopened.Read(ctx)
	require.NoError(t, err)
	assertDec(t, "70", doc.CurrentBalance)
	assertDec(t, "100", doc.InitialBalance)
	require.Len(t, doc.Positions, 2)
	assert.Equal(t, "b", doc.Positions[0].ID)
	assert.Equal(t, "a", doc.Positions[1].ID)
	assertDec(t, "0.40", doc.Positions[0].EntryPrice)
	assert.NoError(t, Audit(doc))

	_, err = l.Update(ctx, func(doc *Document) error {
		p := doc.Remove(doc.Find("b"))
		doc.CurrentBalance = doc.CurrentBalance.Add(p.Notional)
		return nil
	})
	require.NoError(t, err)

	doc, err = reopened.Read(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Positions, 1)
	assert.Equal(t, "a", doc.Positions[0].ID)
}

func TestSQLiteStoreConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "ledger.db")
	first, _ := openTestLedger(t, newTestSQLiteStore(t, path))
	second, _ := openTestLedger(t, newTestSQLiteStore(t, path))

	var wg sync.WaitGroup
	for _, l := range []*Ledger{first, second} {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := l.Update(ctx, func(doc *Document) error {
					doc.CurrentBalance = doc.CurrentBalance.Add(decimal.NewFromInt(1))
					doc.RealizedPnL = doc.RealizedPnL.Add(decimal.NewFromInt(1))
					return nil
				})
				assert.NoError(t, err)
			}
		}(l)
	}
	wg.Wait()

	doc, err := first.Snapshot(ctx)
	require.NoError(t, err)
	assertDec(t, "140", doc.CurrentBalance)
	assert.NoError(t, Audit(doc))
}
