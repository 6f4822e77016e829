/*
atomic.go - Atomic sections with deadline and bounded retry

PURPOSE:
  Every multi-write workflow runs as one atomic section. Atomic wraps
  TxStore.WithTx with the two policies all engines share:

  1. A deadline. The section runs under context.WithTimeout; if the
     deadline passes before commit the store aborts and nothing persists.
  2. Bounded retry. When a section loses an optimistic-locking race
     (ErrConcurrentModification) it is re-run from the start, up to
     MaxAttempts times. Any other error aborts immediately.

EXAMPLE:
  section := generic.NewAtomic(store, 10*time.Second, 3)
  err := section.Run(ctx, func(tx generic.Store) error {
      ...
  })

SEE ALSO:
  - store.go: TxStore.WithTx
  - ledger/engine.go: Balance updates guarded by a version precondition
*/
package generic

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultTxTimeout   = 10 * time.Second
	DefaultMaxAttempts = 3
)

// Atomic runs callbacks inside store transactions.
type Atomic struct {
	Store       TxStore
	Timeout     time.Duration
	MaxAttempts int
}

// NewAtomic builds an Atomic, substituting defaults for zero values.
func NewAtomic(store TxStore, timeout time.Duration, maxAttempts int) *Atomic {
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Atomic{Store: store, Timeout: timeout, MaxAttempts: maxAttempts}
}

// Run executes fn in one atomic section, retrying lost races.
func (a *Atomic) Run(ctx context.Context, fn func(Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= a.MaxAttempts; attempt++ {
		err = a.Store.WithTx(ctx, func(tx Store) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(tx)
		})
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return errors.Join(err, ctxErr)
	}
	return err
}
