package rank

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// Supported scope and period values. Per-team scopes and calendar periods
// are presentation concerns layered on top of the ledger, not ledger state.
const (
	ScopeGlobal   = "global"
	PeriodAllTime = "all-time"
)

// Ranker answers leaderboard queries. It serves from the treap index (or
// its bounded-staleness snapshot) and offers an on-demand recomputation
// path straight from the aggregate layer for correctness-critical callers.
// It never mutates any aggregate.
type Ranker struct {
	index *Index
	store repository.Store
}

// NewRanker wires the index to the store.
func NewRanker(index *Index, store repository.Store) *Ranker {
	return &Ranker{index: index, store: store}
}

// Query describes one leaderboard request.
type Query struct {
	Scope  string // "" or "global"
	Period string // "" or "all-time"
	Limit  int
	Fresh  bool // bypass the index and recompute from the aggregate layer
}

// Rank returns an ordered, finite leaderboard slice.
func (r *Ranker) Rank(ctx context.Context, q Query) ([]model.LeaderboardEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := validateScope(q.Scope, q.Period); err != nil {
		return nil, err
	}
	if q.Limit < 1 {
		return nil, ErrInvalidLimit
	}

	if q.Fresh {
		return r.rankFresh(ctx, q.Limit)
	}
	return r.index.TopNCached(ctx, q.Limit)
}

// UserRank returns one user's rank from the live index.
func (r *Ranker) UserRank(ctx context.Context, userID string) (model.LeaderboardEntry, error) {
	return r.index.Rank(ctx, userID)
}

// rankFresh recomputes the leaderboard from a consistent snapshot of the
// user aggregates, ignoring the index entirely.
func (r *Ranker) rankFresh(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	aggs, err := r.store.UserAggregates(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(aggs))
	for _, ua := range aggs {
		if ua.Total.Sign() <= 0 {
			continue
		}
		entries = append(entries, model.LeaderboardEntry{
			UserID:      ua.UserID,
			Total:       ua.Total,
			LastEventAt: ua.LastEventAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return less(entries[i].Total, entries[i].LastEventAt, entries[i].UserID,
			entries[j].Total, entries[j].LastEventAt, entries[j].UserID)
	})

	if limit < len(entries) {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func validateScope(scope, period string) error {
	if s := strings.TrimSpace(strings.ToLower(scope)); s != "" && s != ScopeGlobal {
		return ErrUnsupportedScope
	}
	if p := strings.TrimSpace(strings.ToLower(period)); p != "" && p != PeriodAllTime {
		return ErrUnsupportedScope
	}
	return nil
}
