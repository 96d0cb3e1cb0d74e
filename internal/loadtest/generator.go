package loadtest

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/pkg/logger"
)

// Quantity distribution bounds, in tenths of a kgCO2e.
const (
	smallActionMax  = 50   // 0.1 - 5.0, e.g. a transit commute
	mediumActionMax = 300  // 5.1 - 30.0, e.g. a week of diet changes
	largeActionMax  = 1500 // 30.1 - 150.0, e.g. a retrofit

	distributionBuckets = 10
	percentDivisor      = 100
)

// randInt returns a uniform random int in [0, n) using crypto/rand.
func randInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// generateActions creates actions spread across NumUsers users with exact
// one-decimal quantities. It also returns the expected per-user totals so
// verification can compare against what the service reports.
func generateActions(ctx context.Context, config *Config, stats *Stats) ([]Action, map[string]decimal.Decimal, error) {
	logger.Get().Info(ctx, "generating actions",
		logger.Int("numActions", config.NumActions),
		logger.Int("numUsers", config.NumUsers),
	)

	userIDs := make([]string, config.NumUsers)
	for i := range userIDs {
		userIDs[i] = "user-" + uuid.New().String()
	}

	actions := make([]Action, config.NumActions)
	expected := make(map[string]decimal.Decimal, config.NumUsers)
	now := time.Now().UTC()

	for i := 0; i < config.NumActions; i++ {
		userID := userIDs[randInt(int64(config.NumUsers))]
		qty := generateQuantity()
		actions[i] = Action{
			IdempotencyKey: uuid.New().String(),
			UserID:         userID,
			Quantity:       qty.String(),
			Unit:           "kgCO2e",
			OccurredAt:     now.Add(-time.Duration(randInt(86400)) * time.Second).Format(time.RFC3339),
			Verified:       true,
		}
		expected[userID] = expected[userID].Add(qty)
	}

	stats.ActionsGenerated = len(actions)
	logger.Get().Info(ctx, "generated actions", logger.Int("count", len(actions)))
	return actions, expected, nil
}

// generateQuantity picks an exact decimal with one fractional digit. Most
// actions are small; large ones are rare.
func generateQuantity() decimal.Decimal {
	var tenths int64
	switch randInt(distributionBuckets) {
	case 0, 1, 2, 3, 4, 5:
		tenths = 1 + randInt(smallActionMax)
	case 6, 7, 8:
		tenths = smallActionMax + 1 + randInt(mediumActionMax-smallActionMax)
	default:
		tenths = mediumActionMax + 1 + randInt(largeActionMax-mediumActionMax)
	}
	return decimal.New(tenths, -1)
}

// pickDuplicates selects the actions to re-submit for idempotency coverage.
func pickDuplicates(actions []Action, pct int) []Action {
	if pct <= 0 || len(actions) == 0 {
		return nil
	}
	n := len(actions) * pct / percentDivisor
	if n == 0 {
		n = 1
	}
	dupes := make([]Action, n)
	for i := 0; i < n; i++ {
		dupes[i] = actions[randInt(int64(len(actions)))]
	}
	return dupes
}
