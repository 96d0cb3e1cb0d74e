package ledger

import (
	"context"
	"time"

	"github.com/ecotally/ecotally/pkg/metrics"
)

// GlobalLock serializes every writer of the global aggregate: submissions,
// backfill recompute and the reconciler's correcting write all pass through
// it. A naive read-then-write on the global row without this discipline
// loses updates under concurrency.
//
// Implemented as a one-slot semaphore so acquisition can honor a deadline
// and a context, which sync.Mutex cannot.
type GlobalLock struct {
	slot chan struct{}
	wait time.Duration
}

// defaultLockWait bounds how long a writer blocks on the global aggregate.
const defaultLockWait = 5 * time.Second

// NewGlobalLock creates the serialization lock with the given acquisition
// bound. A non-positive wait falls back to the default.
func NewGlobalLock(wait time.Duration) *GlobalLock {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &GlobalLock{
		slot: make(chan struct{}, 1),
		wait: wait,
	}
}

// Acquire takes the lock, waiting up to the configured bound.
// Returns ErrConflict on timeout so the caller can retry the identical
// request; retry is always safe because of idempotency.
func (l *GlobalLock) Acquire(ctx context.Context) error {
	start := time.Now()
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case l.slot <- struct{}{}:
		metrics.RecordGlobalLockWait(float64(time.Since(start).Milliseconds()))
		return nil
	case <-timer.C:
		metrics.RecordGlobalLockTimeout()
		return ErrConflict
	case <-ctx.Done():
		metrics.RecordGlobalLockTimeout()
		return ErrConflict
	}
}

// Release returns the lock. Must pair with a successful Acquire.
func (l *GlobalLock) Release() {
	<-l.slot
}
