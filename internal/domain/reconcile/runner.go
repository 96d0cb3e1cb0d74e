package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ecotally/ecotally/pkg/logger"
)

// Default runner configuration constants.
const (
	defaultInterval        = time.Hour
	runnerShutdownTimeout  = 5 * time.Second
	schedulerActor         = "scheduler"
	schedulerDefaultReason = "scheduled reconciliation pass"
)

// Runner drives scheduled reconciliation passes independently of
// request-handling concurrency.
type Runner struct {
	reconciler  *Reconciler
	interval    time.Duration
	autoCorrect bool

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewRunner creates a runner for scheduled passes.
func NewRunner(reconciler *Reconciler, interval time.Duration, autoCorrect bool) *Runner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Runner{
		reconciler:  reconciler,
		interval:    interval,
		autoCorrect: autoCorrect,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("reconcile-runner"),
	}
}

// Start launches the scheduling loop.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			report, err := r.reconciler.Reconcile(ctx, Request{
				AutoCorrect: r.autoCorrect,
				Actor:       schedulerActor,
				Reason:      schedulerDefaultReason,
			})
			if err != nil {
				r.logger.Error(ctx, "scheduled reconciliation failed", logger.Error(err))
				continue
			}
			if report.WasInSync {
				r.logger.Debug(ctx, "scheduled reconciliation: in sync",
					logger.Decimal("globalTotal", report.GlobalTotal),
				)
			}
		}
	}
}

// Shutdown gracefully stops the runner.
func (r *Runner) Shutdown(ctx context.Context) error {
	close(r.shutdown)

	select {
	case <-r.done:
		return nil
	case <-time.After(runnerShutdownTimeout):
		return fmt.Errorf("reconcile runner shutdown timed out")
	case <-ctx.Done():
		return fmt.Errorf("reconcile runner shutdown cancelled: %w", ctx.Err())
	}
}
