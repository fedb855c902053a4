package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("ledger: document not found")
	ErrCorrupt   = errors.New("ledger: document corrupt")
	ErrPersist   = errors.New("ledger: persist failed")
	ErrLocked    = errors.New("ledger: locked by another writer")
	ErrImbalance = errors.New("ledger: conservation violated")

	// ErrUnlock is returned by Commit when the change is durable but the
	// write lock could not be released cleanly.
	ErrUnlock = errors.New("ledger: change saved, lock release failed")

	// ErrNoop may be returned from an Update callback to abandon the change
	// without writing. Update then returns a nil error.
	ErrNoop = errors.New("ledger: no change")
)

// Store persists a single ledger document.
//
// Read must never observe a half-written document. Begin takes an exclusive
// write lock that also excludes writers in other processes; it returns
// ErrLocked (possibly wrapped) when the lock is held elsewhere so the caller
// can back off and retry.
type Store interface {
	Read(ctx context.Context) (Document, error)
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is an exclusive read-modify-write unit on a Store. Save writes the whole
// document atomically. Commit or Rollback must be called exactly once;
// calling either again is a no-op. A Commit error other than ErrUnlock means
// the change was not applied.
type Tx interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, d Document) error
	Commit() error
	Rollback() error
}
