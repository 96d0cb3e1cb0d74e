package loadtest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// verifyTotals compares every user total and the global total against the
// client-side decimal sums. Equality is exact; no tolerance.
func verifyTotals(ctx context.Context, config *Config, expected map[string]decimal.Decimal, stats *Stats) error {
	log.Printf("verifying totals for %d users...", len(expected))

	client := newHTTPClient(config.Timeout)
	expectedGlobal := decimal.Zero

	for userID, want := range expected {
		expectedGlobal = expectedGlobal.Add(want)

		var got TotalResponse
		err := client.getJSON(ctx, config.BaseURL+"/totals/"+url.PathEscape(userID), &got)
		if err != nil {
			return fmt.Errorf("fetch total for %s: %w", userID, err)
		}
		gotTotal, err := decimal.NewFromString(got.Total)
		if err != nil {
			return fmt.Errorf("non-decimal total for %s: %q", userID, got.Total)
		}
		if gotTotal.Equal(want) {
			stats.TotalsVerified++
		} else {
			stats.TotalsMismatched++
			log.Printf("MISMATCH user=%s want=%s got=%s", userID, want.String(), gotTotal.String())
		}
	}

	var global TotalResponse
	if err := client.getJSON(ctx, config.BaseURL+"/totals/global", &global); err != nil {
		return fmt.Errorf("fetch global total: %w", err)
	}
	gotGlobal, err := decimal.NewFromString(global.Total)
	if err != nil {
		return fmt.Errorf("non-decimal global total: %q", global.Total)
	}
	if !gotGlobal.Equal(expectedGlobal) {
		stats.TotalsMismatched++
		return fmt.Errorf("global total mismatch: want %s got %s",
			expectedGlobal.String(), gotGlobal.String())
	}

	if stats.TotalsMismatched > 0 {
		return fmt.Errorf("%d user totals mismatched", stats.TotalsMismatched)
	}
	log.Printf("totals verified: %d users + global, all exact", stats.TotalsVerified)
	return nil
}

// verifyLeaderboard fetches the top entries and checks the deterministic
// ordering: total descending, then last activity descending, then user id
// ascending, with strictly increasing ranks.
func verifyLeaderboard(ctx context.Context, config *Config, expected map[string]decimal.Decimal) error {
	client := newHTTPClient(config.Timeout)

	var entries []Entry
	u := fmt.Sprintf("%s/leaderboard?limit=%d", config.BaseURL, config.TopN)
	if err := client.getJSON(ctx, u, &entries); err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("empty leaderboard")
	}

	prevTotal := decimal.Decimal{}
	var prevAt time.Time
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("rank gap at position %d: got rank %d", i, e.Rank)
		}
		total, err := decimal.NewFromString(e.Total)
		if err != nil {
			return fmt.Errorf("non-decimal leaderboard total at rank %d: %q", e.Rank, e.Total)
		}
		at, err := time.Parse(time.RFC3339Nano, e.LastUpdate)
		if err != nil {
			return fmt.Errorf("bad last_update at rank %d: %q", e.Rank, e.LastUpdate)
		}
		if want, ok := expected[e.UserID]; ok && !total.Equal(want) {
			return fmt.Errorf("leaderboard total for %s: want %s got %s",
				e.UserID, want.String(), total.String())
		}
		if i > 0 {
			switch total.Cmp(prevTotal) {
			case 1:
				return fmt.Errorf("ordering violated at rank %d: %s > %s",
					e.Rank, total.String(), prevTotal.String())
			case 0:
				if at.After(prevAt) {
					return fmt.Errorf("tie-break violated at rank %d: newer activity ranked lower", e.Rank)
				}
			}
		}
		prevTotal = total
		prevAt = at
	}

	log.Printf("leaderboard verified: %d entries, deterministic order holds", len(entries))
	return nil
}
