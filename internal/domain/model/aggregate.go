package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAggregate is the running total for one user, derived from that user's
// committed events. Created lazily on the first committed event; mutated only
// by the ingestion protocol or by reconciliation/backfill recompute.
type UserAggregate struct {
	UserID      string
	Total       decimal.Decimal // == sum of the user's committed event quantities
	EventCount  int64
	LastEventAt time.Time // most recent contributing event (occurrence time)
}

// GlobalAggregate is the singleton running total across all users.
// Invariant: Total == sum of all UserAggregate totals, exactly.
type GlobalAggregate struct {
	Total      decimal.Decimal
	EventCount int64
	UpdatedAt  time.Time
}

// LeaderboardEntry is a derived, ephemeral ranking row. It is never stored as
// ground truth and is always reconstructible from the user aggregates.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	LastEventAt time.Time       `json:"last_update"`
}
