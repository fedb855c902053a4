package ledger

import (
	"context"
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"time"
)

// RetryPolicy bounds every persistence attempt. After MaxAttempts the
// operation fails with the last error; nothing waits forever.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IOTimeout   time.Duration // per attempt
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		IOTimeout:   5 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = def.MaxDelay
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
	}
	if p.IOTimeout <= 0 {
		p.IOTimeout = def.IOTimeout
	}
	return p
}

// backoff returns BaseDelay * 2^attempt capped at MaxDelay, with up to 50%
// jitter so competing writers do not retry in lockstep.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int64N(half+1))
}

// retryable reports whether err is a transient persistence failure. Decode
// and validation errors are not: retrying them can never succeed.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrLocked), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}

// do runs fn until it succeeds, fails permanently, or the policy is spent.
func (p RetryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}

		actx, cancel := context.WithTimeout(ctx, p.IOTimeout)
		err = fn(actx)
		cancel()

		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
