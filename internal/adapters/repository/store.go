// Package repository defines the ledger store interface and errors.
//
// The store keeps two logically distinct layers: the append-only event
// ledger (source of truth) and the derived aggregate rows. Every aggregate
// is re-derivable by replaying the ledger, which is what makes backfill
// recompute and reconciliation correct by construction.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/domain/model"
)

// Counts reports store sizes for stats and gauges.
type Counts struct {
	Events int
	Users  int
}

// Store provides access to the event ledger and the aggregate layer.
//
// CommitEvent is the only write that applies incremental aggregate deltas,
// and it is atomic: the event insert, the user-aggregate update and the
// global-aggregate update commit together or not at all. Callers serialize
// global-aggregate writers above this interface; implementations still
// guard their own state so a misbehaving caller cannot corrupt it.
type Store interface {
	// GetEvent returns the committed event for an idempotency key.
	// Returns ErrNotFound when no such event is committed.
	GetEvent(ctx context.Context, idempotencyKey string) (model.ActionEvent, error)

	// CommitEvent atomically inserts ev and applies its quantity to the
	// owning user aggregate (created if absent) and the global aggregate.
	// Returns ErrDuplicateKey when the idempotency key is already committed,
	// in which case no state changed.
	CommitEvent(ctx context.Context, ev model.ActionEvent) error

	// InsertEventOnly inserts ev without touching any aggregate. Used by
	// backfill, which recomputes aggregates from source-of-truth sums.
	// Returns ErrDuplicateKey when the key is already committed.
	InsertEventOnly(ctx context.Context, ev model.ActionEvent) error

	// UserAggregate returns the aggregate row for a user.
	// Returns ErrNotFound when the user has no committed events.
	UserAggregate(ctx context.Context, userID string) (model.UserAggregate, error)

	// UserAggregates returns a consistent snapshot of every user aggregate.
	UserAggregates(ctx context.Context) ([]model.UserAggregate, error)

	// GlobalAggregate returns the singleton global aggregate.
	GlobalAggregate(ctx context.Context) (model.GlobalAggregate, error)

	// RecomputeUser sets a user's aggregate to the exact sum of that user's
	// committed events and returns the recomputed row.
	RecomputeUser(ctx context.Context, userID string) (model.UserAggregate, error)

	// RecomputeGlobal sets the global aggregate to the exact sum of all user
	// aggregates and returns the recomputed row.
	RecomputeGlobal(ctx context.Context) (model.GlobalAggregate, error)

	// SetGlobalTotal overwrites the global total. Reserved for the
	// reconciler's correcting write; callers hold the global lock.
	SetGlobalTotal(ctx context.Context, total decimal.Decimal, at time.Time) error

	// AppendCorrection appends an audit record. The trail is append-only.
	AppendCorrection(ctx context.Context, rec model.CorrectionRecord) error

	// Corrections returns up to limit audit records, most recent first.
	Corrections(ctx context.Context, limit int) ([]model.CorrectionRecord, error)

	// Counts returns ledger sizes.
	Counts(ctx context.Context) (Counts, error)

	// Close releases store resources.
	Close() error
}
