// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/internal/domain/rank"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, q rank.Query) ([]model.LeaderboardEntry, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N[&fresh=1] requests.
// fresh=1 bypasses the periodic snapshot and ranks straight off the
// aggregate layer.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limitStr := r.URL.Query().Get("limit")
	n, err := strconv.Atoi(limitStr)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	q := rank.Query{
		Scope:  rank.ScopeGlobal,
		Period: rank.PeriodAllTime,
		Limit:  n,
		Fresh:  r.URL.Query().Get("fresh") == "1",
	}
	if scope := r.URL.Query().Get("scope"); scope != "" {
		q.Scope = scope
	}
	if period := r.URL.Query().Get("period"); period != "" {
		q.Period = period
	}
	entries, err := h.deps.Leaderboard(r.Context(), q)
	if err != nil {
		if err == rank.ErrUnsupportedScope {
			writeError(w, http.StatusBadRequest, "unsupported_scope", NewKind(op, ErrBadRequest))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
