// Package ledger owns the persisted balance and open positions of one
// trading account. A Ledger is the only thing allowed to change either, and
// every change goes through Update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/metrics"
	"github.com/shopspring/decimal"
)

// LoadStatus tells the caller how Open found the persisted document.
type LoadStatus int

const (
	StatusLoaded      LoadStatus = iota // existing document read
	StatusInitialized                   // no document; a fresh one was written
	StatusRecovered                     // document was unreadable and was replaced
)

func (s LoadStatus) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusInitialized:
		return "initialized"
	case StatusRecovered:
		return "recovered"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

type Options struct {
	// Name labels metrics and logs, e.g. "dry_run" or "paper".
	Name           string
	InitialBalance decimal.Decimal
	Retry          RetryPolicy
	Logger         zerolog.Logger
	Now            func() time.Time
}

type Ledger struct {
	mu     sync.Mutex // serializes Update within the process
	store  Store
	opts   Options
	log    zerolog.Logger
	cached Document
	cmu    sync.RWMutex // guards cached
}

// Open loads the ledger document from store. A missing or malformed document
// is replaced by a fresh one funded with opts.InitialBalance and persisted
// before Open returns; corruption is logged as a warning and reported as
// StatusRecovered rather than as an error.
func Open(ctx context.Context, store Store, opts Options) (*Ledger, LoadStatus, error) {
	if store == nil {
		return nil, 0, errors.New("ledger: nil store")
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitialBalance.IsNegative() {
		return nil, 0, fmt.Errorf("ledger: negative initial balance %s", opts.InitialBalance)
	}
	opts.Retry = opts.Retry.withDefaults()

	l := &Ledger{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("ledger", opts.Name).Logger(),
	}

	var doc Document
	err := l.opts.Retry.do(ctx, func(ctx context.Context) error {
		var rerr error
		doc, rerr = store.Read(ctx)
		return rerr
	})
	switch {
	case err == nil:
		l.setCached(doc)
		return l, StatusLoaded, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		// fall through to initialization below
	default:
		return nil, 0, fmt.Errorf("%w: load: %v", ErrPersist, err)
	}

	status := StatusInitialized
	if errors.Is(err, ErrCorrupt) {
		status = StatusRecovered
	}
	// Update re-reads under the write lock; if another writer initialized the
	// document meanwhile its version is kept.
	if _, uerr := l.Update(ctx, func(*Document) error { return nil }); uerr != nil {
		return nil, 0, uerr
	}
	return l, status, nil
}

// Update is the sole mutation entry point. fn receives a private copy of the
// latest persisted document; when it returns nil the copy is written
// atomically with a fresh timestamp and becomes the ledger state. When fn
// returns ErrNoop nothing is written and Update returns the current document
// and a nil error. Any other fn error is returned unchanged, also without
// writing.
//
// The change is applied only if Update returns a nil error. Write failures are
// wrapped in ErrPersist.
func (l *Ledger) Update(ctx context.Context, fn func(*Document) error) (Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var tx Tx
	err := l.opts.Retry.do(ctx, func(ctx context.Context) error {
		var berr error
		tx, berr = l.store.Begin(ctx)
		return berr
	})
	if err != nil {
		return l.persistFailed("lock", err)
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback()
		}
	}()

	cur, err := tx.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		l.log.Info().Str("balance", l.opts.InitialBalance.String()).Msg("initializing ledger")
		cur = NewDocument(l.opts.InitialBalance, l.opts.Now())
	case errors.Is(err, ErrCorrupt):
		l.log.Warn().Err(err).Str("balance", l.opts.InitialBalance.String()).
			Msg("ledger document corrupt, reinitializing")
		metrics.LedgerRecoveries.WithLabelValues(l.opts.Name).Inc()
		cur = NewDocument(l.opts.InitialBalance, l.opts.Now())
	default:
		return l.persistFailed("load", err)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoop) {
			l.setCached(cur)
			return cur.Clone(), nil
		}
		return Document{}, err
	}
	next.LastUpdated = l.opts.Now().UTC()

	err = l.opts.Retry.do(ctx, func(ctx context.Context) error {
		return tx.Save(ctx, next)
	})
	if err != nil {
		return l.persistFailed("save", err)
	}
	finished = true
	if err := tx.Commit(); err != nil {
		if !errors.Is(err, ErrUnlock) {
			return l.persistFailed("commit", err)
		}
		l.log.Warn().Err(err).Msg("ledger saved but lock not released")
	}

	l.setCached(next)
	metrics.LedgerBalance.WithLabelValues(l.opts.Name).Set(next.CurrentBalance.InexactFloat64())
	metrics.LedgerOpenPositions.WithLabelValues(l.opts.Name).Set(float64(len(next.Positions)))
	return next.Clone(), nil
}

func (l *Ledger) persistFailed(stage string, err error) (Document, error) {
	metrics.LedgerPersistFailures.WithLabelValues(l.opts.Name, stage).Inc()
	l.log.Error().Err(err).Str("stage", stage).Msg("ledger persist failed")
	return Document{}, fmt.Errorf("%w: %s: %v", ErrPersist, stage, err)
}

// Snapshot returns a private copy of the latest committed document. It reads
// through to the store so writes by other processes are visible; if the store
// cannot produce a valid document the last state seen by this Ledger is
// returned instead.
func (l *Ledger) Snapshot(ctx context.Context) (Document, error) {
	var doc Document
	err := l.opts.Retry.do(ctx, func(ctx context.Context) error {
		var rerr error
		doc, rerr = l.store.Read(ctx)
		return rerr
	})
	switch {
	case err == nil:
		l.setCached(doc)
		return doc.Clone(), nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		l.log.Warn().Err(err).Msg("ledger unreadable, serving last known state")
		return l.Cached(), nil
	default:
		return Document{}, fmt.Errorf("%w: read: %v", ErrPersist, err)
	}
}

// Cached returns the last document this Ledger read or wrote without touching
// the store.
func (l *Ledger) Cached() Document {
	l.cmu.RLock()
	defer l.cmu.RUnlock()
	return l.cached.Clone()
}

func (l *Ledger) setCached(d Document) {
	l.cmu.Lock()
	l.cached = d.Clone()
	l.cmu.Unlock()
}

func (l *Ledger) Balance(ctx context.Context) (decimal.Decimal, error) {
	d, err := l.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return d.CurrentBalance, nil
}

// Positions returns open positions in open order. The slice is a copy.
func (l *Ledger) Positions(ctx context.Context) ([]Position, error) {
	d, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return d.Positions, nil
}

func (l *Ledger) Name() string { return l.opts.Name }

func (l *Ledger) Close() error { return l.store.Close() }
