package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ecotally/ecotally/pkg/logger"
)

// Run executes the complete ledger load test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting ledger load test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("actions", config.NumActions),
		logger.Int("users", config.NumUsers),
		logger.Int("workers", config.Workers),
		logger.Int("dupePct", config.DupePct),
		logger.Int("topN", config.TopN),
	)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate actions with known expected totals
	actions, expected, err := generateActions(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("action generation failed: %w", err)
	}

	// Step 3: Submit actions concurrently
	if err := submitActions(ctx, config, actions, stats); err != nil {
		return fmt.Errorf("action submission failed: %w", err)
	}

	// Step 4: Re-submit a sample to confirm idempotency
	if dupes := pickDuplicates(actions, config.DupePct); len(dupes) > 0 {
		logger.Get().Info(ctx, "re-submitting sample for idempotency check",
			logger.Int("count", len(dupes)))
		if err := submitActions(ctx, config, dupes, stats); err != nil {
			return fmt.Errorf("duplicate submission failed: %w", err)
		}
	}

	// Step 5: Verify totals against client-side decimal sums
	if err := verifyTotals(ctx, config, expected, stats); err != nil {
		return fmt.Errorf("total verification failed: %w", err)
	}

	// Step 6: Verify leaderboard ordering
	if err := verifyLeaderboard(ctx, config, expected); err != nil {
		return fmt.Errorf("leaderboard verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "load test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var actionsPerSecond float64
	if stats.Duration > 0 {
		actionsPerSecond = float64(stats.ActionsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("actionsGenerated", stats.ActionsGenerated),
		logger.Int("actionsSubmitted", stats.ActionsSubmitted),
		logger.Int("actionsCommitted", stats.ActionsCommitted),
		logger.Int("actionsDuplicate", stats.ActionsDuplicate),
		logger.Int("actionsConflicted", stats.ActionsConflicted),
		logger.Int("actionsFailed", stats.ActionsFailed),
		logger.Int("totalsVerified", stats.TotalsVerified),
		logger.Int("totalsMismatched", stats.TotalsMismatched),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("actionsPerSecond", actionsPerSecond),
	)
}
