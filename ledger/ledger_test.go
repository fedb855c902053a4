package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(name string) Options {
	return Options{
		Name:           name,
		InitialBalance: d("100"),
		Retry: RetryPolicy{
			MaxAttempts: 500,
			BaseDelay:   100 * time.Microsecond,
			MaxDelay:    5 * time.Millisecond,
			IOTimeout:   time.Second,
		},
		Logger: zerolog.Nop(),
	}
}

func openTestLedger(t *testing.T, s Store) (*Ledger, LoadStatus) {
	t.Helper()
	l, st, err := Open(context.Background(), s, testOptions(t.Name()))
	require.NoError(t, err)
	return l, st
}

func TestOpenInitializesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	l, st := openTestLedger(t, s)
	assert.Equal(t, StatusInitialized, st)

	bal, err := l.Balance(ctx)
	require.NoError(t, err)
	assertDec(t, "100", bal)

	_, err = os.Stat(s.Path())
	require.NoError(t, err, "initial state is written before Open returns")

	_, st = openTestLedger(t, s)
	assert.Equal(t, StatusLoaded, st)
}

func TestOpenRecoversCorruptDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	l, st := openTestLedger(t, s)
	assert.Equal(t, StatusRecovered, st)

	doc, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assertDec(t, "100", doc.CurrentBalance)
	assert.Empty(t, doc.Positions)

	// The replacement is on disk.
	_, err = s.Read(ctx)
	assert.NoError(t, err)
}

func TestUpdateAppliesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	l, _ := openTestLedger(t, s)

	before := time.Now().Add(-time.Second)
	doc, err := l.Update(ctx, func(doc *Document) error {
		doc.Positions = append(doc.Positions, testPosition("a", "20"))
		doc.CurrentBalance = doc.CurrentBalance.Sub(d("20"))
		return nil
	})
	require.NoError(t, err)
	assertDec(t, "80", doc.CurrentBalance)
	assert.True(t, doc.LastUpdated.After(before))
	assert.NoError(t, Audit(doc))

	onDisk, err := s.Read(ctx)
	require.NoError(t, err)
	assertDec(t, "80", onDisk.CurrentBalance)
	require.Len(t, onDisk.Positions, 1)
}

func TestUpdateCallbackErrorAppliesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _ := openTestLedger(t, newTestFileStore(t))
	boom := errors.New("boom")

	_, err := l.Update(ctx, func(doc *Document) error {
		doc.CurrentBalance = decimal.Zero
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := l.Balance(ctx)
	require.NoError(t, err)
	assertDec(t, "100", bal)
}

func TestUpdateNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	l, _ := openTestLedger(t, s)
	fi, err := os.Stat(s.Path())
	require.NoError(t, err)

	doc, err := l.Update(ctx, func(doc *Document) error {
		doc.CurrentBalance = decimal.Zero
		return ErrNoop
	})
	require.NoError(t, err)
	assertDec(t, "100", doc.CurrentBalance)

	fi2, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, fi.ModTime(), fi2.ModTime())
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, _ := openTestLedger(t, newTestFileStore(t))
	_, err := l.Update(ctx, func(doc *Document) error {
		doc.Positions = append(doc.Positions, testPosition("a", "10"))
		doc.CurrentBalance = doc.CurrentBalance.Sub(d("10"))
		return nil
	})
	require.NoError(t, err)

	ps, err := l.Positions(ctx)
	require.NoError(t, err)
	ps[0].ID = "mutated"

	ps2, err := l.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", ps2[0].ID)
}

// failingStore fails every Save with a permanent error.
type failingStore struct {
	Store
}

func (s failingStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{tx}, nil
}

type failingTx struct {
	Tx
}

func (failingTx) Save(context.Context, Document) error { return errors.New("disk full") }

func TestUpdateWriteFailureIsFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newTestFileStore(t)
	good, _ := openTestLedger(t, fs)

	l, st, err := Open(ctx, failingStore{fs}, testOptions("failing"))
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, st)

	_, err = l.Update(ctx, func(doc *Document) error {
		doc.CurrentBalance = d("1")
		return nil
	})
	require.ErrorIs(t, err, ErrPersist)

	assertDec(t, "100", l.Cached().CurrentBalance)
	bal, err := good.Balance(ctx)
	require.NoError(t, err)
	assertDec(t, "100", bal)

	// The lock was released on failure.
	_, err = good.Update(ctx, func(*Document) error { return nil })
	assert.NoError(t, err)
}

// unlockFailStore saves normally but reports a failed lock release.
type unlockFailStore struct {
	Store
}

func (s unlockFailStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return unlockFailTx{tx}, nil
}

type unlockFailTx struct {
	Tx
}

func (tx unlockFailTx) Commit() error {
	if err := tx.Tx.Commit(); err != nil {
		return err
	}
	return fmt.Errorf("%w: lock vanished", ErrUnlock)
}

func TestUpdateSucceedsWhenOnlyUnlockFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs := newTestFileStore(t)
	l, _, err := Open(ctx, unlockFailStore{fs}, testOptions(t.Name()))
	require.NoError(t, err)

	doc, err := l.Update(ctx, func(doc *Document) error {
		doc.CurrentBalance = doc.CurrentBalance.Sub(d("10"))
		return nil
	})
	require.NoError(t, err, "a durable change must not be reported as failed")
	assertDec(t, "90", doc.CurrentBalance)
	assertDec(t, "90", l.Cached().CurrentBalance)

	got, err := fs.Read(ctx)
	require.NoError(t, err)
	assertDec(t, "90", got.CurrentBalance)
}

func TestUpdateFailsWhenLockNeverFrees(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	opts := testOptions("stuck")
	opts.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	l, _, err := Open(ctx, s, opts)
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = l.Update(ctx, func(*Document) error { return nil })
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorContains(t, err, "locked")
}

func TestSnapshotFallsBackToCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestFileStore(t)
	l, _ := openTestLedger(t, s)
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o600))

	doc, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assertDec(t, "100", doc.CurrentBalance)
}

func TestConcurrentLedgersDoNotLoseUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := newTestFileStore(t).Path()
	const writers, perWriter = 4, 25

	ledgers := make([]*Ledger, writers)
	for i := range ledgers {
		s, err := NewFileStore(path)
		require.NoError(t, err)
		l, _, err := Open(ctx, s, testOptions("concurrent"))
		require.NoError(t, err)
		ledgers[i] = l
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for _, l := range ledgers {
		wg.Add(1)
		go func(l *Ledger) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := l.Update(ctx, func(doc *Document) error {
					doc.CurrentBalance = doc.CurrentBalance.Add(decimal.NewFromInt(1))
					doc.RealizedPnL = doc.RealizedPnL.Add(decimal.NewFromInt(1))
					return nil
				})
				if err != nil {
					errs <- err
				}
			}
		}(l)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := ledgers[0].Snapshot(ctx)
	require.NoError(t, err)
	assertDec(t, "200", doc.CurrentBalance)
	assert.NoError(t, Audit(doc))
}

func TestLoadStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "loaded", StatusLoaded.String())
	assert.Equal(t, "initialized", StatusInitialized.String())
	assert.Equal(t, "recovered", StatusRecovered.String())
}
