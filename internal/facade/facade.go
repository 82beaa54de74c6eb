// Package facade implements the Facade Bridge: the thin layer every
// single-shot operation and retrying closure-based transaction goes
// through, so callers never touch Coordinator/Context plumbing directly.
//
// What: put/get/delete/cas desugar to a one-op transaction committed
// immediately; transaction_with_retry retries Conflict with clamped
// exponential backoff; transaction_with_timeout marks a transaction
// Expired at or after a deadline.
package facade

import (
	"math/rand"
	"time"

	"stratadb/internal/coordinator"
	"stratadb/internal/errs"
	"stratadb/internal/snapshot"
	"stratadb/internal/store"
	"stratadb/internal/txn"
	"stratadb/internal/value"
)

// RetryConfig bounds transaction_with_retry's backoff.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches common OCC workloads: a handful of quick
// retries before giving up.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: 2 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
}

// Bridge is the Facade Bridge: implicit single-op transactions plus
// retrying closure execution, over a Coordinator and its Store.
type Bridge struct {
	coord *coordinator.Coordinator
	s     *store.Store
}

// New builds a Bridge over coord and its backing store.
func New(coord *coordinator.Coordinator, s *store.Store) *Bridge {
	return &Bridge{coord: coord, s: s}
}

// Put desugars to a one-write transaction committed immediately.
func (b *Bridge) Put(runID value.RunId, key value.Key, v value.Value) error {
	ctx := b.coord.Begin(runID)
	if err := ctx.Put(key, v); err != nil {
		_ = b.coord.Abort(ctx)
		return err
	}
	return b.commitOrAbort(ctx)
}

// Delete desugars to a one-delete transaction committed immediately.
func (b *Bridge) Delete(runID value.RunId, key value.Key) error {
	ctx := b.coord.Begin(runID)
	if err := ctx.Delete(key); err != nil {
		_ = b.coord.Abort(ctx)
		return err
	}
	return b.commitOrAbort(ctx)
}

// CAS desugars to a one-CAS transaction committed immediately.
func (b *Bridge) CAS(runID value.RunId, key value.Key, expectedVersion uint64, newValue value.Value) error {
	ctx := b.coord.Begin(runID)
	if err := ctx.CAS(key, expectedVersion, newValue); err != nil {
		_ = b.coord.Abort(ctx)
		return err
	}
	return b.commitOrAbort(ctx)
}

// Incr desugars directly to the atomic engine op; it never
// goes through Begin/Commit since it is never buffered.
func (b *Bridge) Incr(runID value.RunId, key value.Key, delta int64) (int64, error) {
	return b.coord.Incr(runID, key, delta)
}

// Get is a direct snapshot read: it pins a view at the store's current
// version and reads once, never buffering and never failing with Conflict.
func (b *Bridge) Get(key value.Key) (value.Value, bool, error) {
	snap := snapshot.New(b.s, b.s.CurrentVersion())
	vv, ok, err := snap.Get(key)
	if err != nil {
		return value.Value{}, false, err
	}
	if !ok {
		return value.Value{}, false, nil
	}
	return vv.Value, true, nil
}

// GetAt is a direct time-travel read bounded by bound, bypassing
// transactions entirely.
func (b *Bridge) GetAt(key value.Key, bound store.Bound) (value.Value, bool, error) {
	vv, ok, err := b.s.GetAt(key, bound)
	if err != nil {
		return value.Value{}, false, err
	}
	if !ok {
		return value.Value{}, false, nil
	}
	return vv.Value, true, nil
}

func (b *Bridge) commitOrAbort(ctx *txn.Context) error {
	if err := b.coord.Commit(ctx); err != nil {
		return err
	}
	return nil
}

// Closure is the work a retrying or timed transaction performs. Returning
// a non-nil error aborts the transaction and propagates the error; a nil
// return attempts to commit.
type Closure func(ctx *txn.Context) error

// TransactionWithRetry runs fn inside a fresh transaction and commits it.
// On Conflict it retries up to cfg.MaxRetries times with exponential
// backoff clamped to [BaseDelay, MaxDelay]. Any non-Conflict
// error, from fn or from Commit, returns immediately without retrying.
func (b *Bridge) TransactionWithRetry(runID value.RunId, cfg RetryConfig, fn Closure) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		ctx := b.coord.Begin(runID)

		if err := fn(ctx); err != nil {
			_ = b.coord.Abort(ctx)
			return err
		}

		err := b.coord.Commit(ctx)
		if err == nil {
			return nil
		}
		if code, ok := errs.CodeOf(err); !ok || code != errs.Conflict {
			return err
		}
		lastErr = err
		if attempt < cfg.MaxRetries {
			time.Sleep(backoff(attempt, cfg.BaseDelay, cfg.MaxDelay))
		}
	}
	return lastErr
}

// TransactionWithTimeout runs fn inside a fresh transaction, marking it
// Expired if deadline passes before commit; any operation attempted after
// that point returns Conflict:stale. The closure itself is not
// interrupted mid-step, only the boundary before commit is checked.
func (b *Bridge) TransactionWithTimeout(runID value.RunId, deadline time.Time, fn Closure) error {
	ctx := b.coord.Begin(runID)

	if err := fn(ctx); err != nil {
		_ = b.coord.Abort(ctx)
		return err
	}

	if !time.Now().Before(deadline) {
		ctx.MarkExpired()
		return errs.New(errs.Conflict, "transaction %d expired before commit", ctx.TxnID).
			WithDetails("reason", "stale")
	}

	return b.coord.Commit(ctx)
}

// backoff returns a clamped exponential delay for the given (zero-based)
// attempt, with up to 20% jitter to avoid retry storms across concurrent
// transactions racing the same key.
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	d += jitter
	if d > max {
		d = max
	}
	return d
}
