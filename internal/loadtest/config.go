package loadtest

import "time"

// Config holds configuration for the ledger load test.
type Config struct {
	BaseURL    string        // Base URL of the service
	NumActions int           // Number of actions to generate
	NumUsers   int           // Number of distinct users spread across actions
	TopN       int           // Number of top entries to fetch
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	DupePct    int           // Percentage of actions re-submitted to exercise idempotency
	LogFile    string        // Log file for test output
	Verbose    bool          // Enable verbose logging
}

// Action mirrors the POST /actions wire shape.
type Action struct {
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Quantity       string `json:"quantity"`
	Unit           string `json:"unit"`
	OccurredAt     string `json:"occurred_at"`
	Verified       bool   `json:"verified"`
}

// AckResponse mirrors the submission response.
type AckResponse struct {
	Status      string `json:"status"`
	Duplicate   bool   `json:"duplicate"`
	UserTotal   string `json:"user_total"`
	GlobalTotal string `json:"global_total"`
}

// Entry mirrors a leaderboard entry.
type Entry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"user_id"`
	Total      string `json:"total"`
	LastUpdate string `json:"last_update"`
}

// TotalResponse mirrors GET /totals responses.
type TotalResponse struct {
	UserID string `json:"user_id"`
	Total  string `json:"total"`
}

// Stats holds test statistics.
type Stats struct {
	ActionsGenerated  int
	ActionsSubmitted  int
	ActionsCommitted  int
	ActionsDuplicate  int
	ActionsConflicted int
	ActionsFailed     int
	TotalsVerified    int
	TotalsMismatched  int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
