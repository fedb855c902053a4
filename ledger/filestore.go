package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps the ledger as a JSON document on disk.
//
// Writes go to a temp file in the same directory which is fsynced and renamed
// over the document, so readers see either the old or the new document and
// never a mix. Writers serialize on a sibling lock file created with O_EXCL;
// the file holds an owner token so a writer only ever removes its own lock.
type FileStore struct {
	path       string
	lockPath   string
	staleAfter time.Duration
	perm       os.FileMode
}

type FileOption func(*FileStore)

// WithStaleLockAfter sets how old a lock file must be before it is treated as
// abandoned by a crashed writer and broken.
func WithStaleLockAfter(d time.Duration) FileOption {
	return func(s *FileStore) { s.staleAfter = d }
}

func WithFileMode(perm os.FileMode) FileOption {
	return func(s *FileStore) { s.perm = perm }
}

func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("ledger: empty file store path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	s := &FileStore{
		path:       path,
		lockPath:   path + ".lock",
		staleAfter: 30 * time.Second,
		perm:       0o600,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return decode(b)
}

func (s *FileStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := s.acquire(token); err != nil {
		return nil, err
	}
	return &fileTx{s: s, token: token}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) acquire(token string) error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		if !s.breakStale() {
			return fmt.Errorf("%w: %s", ErrLocked, s.lockPath)
		}
		f, err = os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLocked, s.lockPath)
		}
	}
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%s %d\n", token, os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(s.lockPath)
		return errors.Join(werr, cerr)
	}
	return nil
}

// breakStale removes a lock older than staleAfter and reports whether it did.
//
// Breakers serialize on a second O_EXCL file and re-read the lock while
// holding it, so a fresh lock that replaced the stale one is never removed.
// A breaker that crashes leaves its own file behind; it ages out the same
// way.
func (s *FileStore) breakStale() bool {
	if s.staleAfter <= 0 {
		return false
	}
	seen, stale, err := s.readLock()
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if !stale {
		return false
	}

	breakPath := s.lockPath + ".break"
	f, err := os.OpenFile(breakPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if fi, serr := os.Stat(breakPath); serr == nil && time.Since(fi.ModTime()) >= s.staleAfter {
			_ = os.Remove(breakPath)
		}
		return false
	}
	f.Close()
	defer os.Remove(breakPath)

	again, stale, err := s.readLock()
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if !stale || !bytes.Equal(again, seen) {
		return false
	}
	return os.Remove(s.lockPath) == nil
}

// readLock returns the lock's owner line and whether it is older than
// staleAfter.
func (s *FileStore) readLock() ([]byte, bool, error) {
	fi, err := os.Stat(s.lockPath)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(s.lockPath)
	if err != nil {
		return nil, false, err
	}
	return b, time.Since(fi.ModTime()) >= s.staleAfter, nil
}

func (s *FileStore) release(token string) error {
	b, err := os.ReadFile(s.lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	// A lock broken as stale and re-taken by someone else is not ours.
	if !bytes.HasPrefix(b, []byte(token)) {
		return nil
	}
	return os.Remove(s.lockPath)
}

type fileTx struct {
	s     *FileStore
	token string
	done  bool
}

func (tx *fileTx) Load(ctx context.Context) (Document, error) {
	return tx.s.Read(ctx)
}

func (tx *fileTx) Save(ctx context.Context, d Document) error {
	if tx.done {
		return errors.New("ledger: save on finished transaction")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(d)
	if err != nil {
		return err
	}
	return writeFileAtomic(tx.s.path, b, tx.s.perm)
}

// Commit releases the lock. Save already made the document durable, so a
// release failure is reported as ErrUnlock.
func (tx *fileTx) Commit() error {
	if err := tx.finish(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnlock, err)
	}
	return nil
}

func (tx *fileTx) Rollback() error { return tx.finish() }

func (tx *fileTx) finish() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.s.release(tx.token)
}

// writeFileAtomic writes data to path via tmp file + fsync + rename, then
// fsyncs the parent directory so the rename itself survives a crash.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
