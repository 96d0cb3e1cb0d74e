// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - All loading functions accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the event store backend: "memory" or "sqlite".
	Store string `koanf:"store"`

	// SQLitePath is the database file path when Store is "sqlite".
	SQLitePath string `koanf:"sqlite_path"`

	// LockWait bounds how long a commit waits for the global serialization
	// slot before giving up with a retryable conflict.
	LockWait time.Duration `koanf:"lock_wait"`

	// ReconcileInterval sets the cadence of scheduled reconciliation passes.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// AutoCorrect lets scheduled reconciliation rewrite a drifted global
	// total rather than only recording the drift.
	AutoCorrect bool `koanf:"auto_correct"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// RankSnapshotInterval sets how often the leaderboard snapshot is rebuilt.
	RankSnapshotInterval time.Duration `koanf:"rank_snapshot_interval"`

	// NotifyBuffer bounds the notification outbox.
	NotifyBuffer int `koanf:"notify_buffer"`

	// SubscriberBuffer bounds each notification subscriber channel.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// VerifyLatencyMinMS and VerifyLatencyMaxMS simulate external
	// verification latency bounds.
	VerifyLatencyMinMS int `koanf:"verify_latency_min_ms"`
	VerifyLatencyMaxMS int `koanf:"verify_latency_max_ms"`

	// VerifyConfidenceMin is the confidence floor below which a submission
	// is held instead of committed.
	VerifyConfidenceMin float64 `koanf:"verify_confidence_min"`

	// VerifyAutoAcceptBelow is the quantity threshold under which a
	// submission is accepted when the verifier is unavailable. Decimal text.
	VerifyAutoAcceptBelow string `koanf:"verify_auto_accept_below"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use and is
// currently unused.
func New(_ context.Context) *Config {
	c := &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		Store:                 "memory",
		SQLitePath:            "ecotally.db",
		LockWait:              5 * time.Second,
		ReconcileInterval:     time.Hour,
		AutoCorrect:           true,
		MaxLeaderboardLimit:   100,
		RankSnapshotInterval:  time.Second,
		NotifyBuffer:          10_000,
		SubscriberBuffer:      256,
		VerifyLatencyMinMS:    80,
		VerifyLatencyMaxMS:    150,
		VerifyConfidenceMin:   0.5,
		VerifyAutoAcceptBelow: "5",
	}
	return c
}
