package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/ecotally/ecotally/internal/loadtest"
)

// Default configuration constants.
const (
	defaultNumActions  = 10000
	defaultNumUsers    = 500
	defaultTopN        = 50
	defaultDupePct     = 5
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numActions = flag.Int("actions", defaultNumActions, "Number of actions to generate and submit")
		numUsers   = flag.Int("users", defaultNumUsers, "Number of distinct users")
		topN       = flag.Int("top", defaultTopN, "Number of top entries to fetch from leaderboard")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		dupePct    = flag.Int("dupe", defaultDupePct, "Percentage of actions re-submitted for idempotency coverage")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile    = flag.String("log", "", "Log file for test output (default: loadtest_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	if err := loadtest.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &loadtest.Config{
		BaseURL:    *baseURL,
		NumActions: *numActions,
		NumUsers:   *numUsers,
		TopN:       *topN,
		Workers:    *workers,
		Timeout:    *timeout,
		DupePct:    *dupePct,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	if err := loadtest.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Load test failed: " + err.Error() + "\n")
		return
	}
}
