// Package reconcile recomputes the global aggregate from the aggregate
// layer and records every drift it finds.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/ledger"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/logger"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// Request parameterizes one reconciliation pass.
type Request struct {
	AutoCorrect bool
	Actor       string
	Reason      string
}

// Report is the outcome of one pass.
type Report struct {
	WasInSync   bool
	UserSum     decimal.Decimal
	GlobalTotal decimal.Decimal
	Discrepancy decimal.Decimal
	Corrected   bool
}

// Reconciler checks the invariant global == Σ user totals and corrects
// drift. It is a read-side consumer of the aggregate layer: it never goes
// through the ingestion protocol, and its only write is the correcting one.
type Reconciler struct {
	store  repository.Store
	lock   *ledger.GlobalLock
	logger logger.Logger
}

// New constructs a Reconciler sharing the ingestion protocol's global lock.
func New(store repository.Store, lock *ledger.GlobalLock, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		lock:   lock,
		logger: logger.Get().Named("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass.
//
// The scan works on one consistent snapshot of the user aggregates. A
// detected mismatch always produces a CorrectionRecord; whether the global
// total is then rewritten is policy, never silence. The correcting write
// re-derives the sum under the global lock rather than reusing the scanned
// value, so submissions that landed between scan and correction are not
// erased.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Report, error) {
	metrics.RecordReconcileRun()

	aggs, err := r.store.UserAggregates(ctx)
	if err != nil {
		return Report{}, err
	}
	userSum := decimal.Zero
	for _, ua := range aggs {
		userSum = userSum.Add(ua.Total)
	}

	g, err := r.store.GlobalAggregate(ctx)
	if err != nil {
		return Report{}, err
	}

	if userSum.Equal(g.Total) {
		metrics.UpdateLastDriftAbs(0)
		return Report{
			WasInSync:   true,
			UserSum:     userSum,
			GlobalTotal: g.Total,
			Discrepancy: decimal.Zero,
		}, nil
	}

	discrepancy := userSum.Sub(g.Total).Abs()
	metrics.RecordReconcileDrift()
	drift, _ := discrepancy.Float64()
	metrics.UpdateLastDriftAbs(drift)

	rec := model.CorrectionRecord{
		ID:             uuid.NewString(),
		PreviousTotal:  g.Total,
		CorrectedTotal: userSum,
		Discrepancy:    discrepancy,
		Reason:         req.Reason,
		Actor:          req.Actor,
		CreatedAt:      time.Now(),
	}
	if rec.Reason == "" {
		rec.Reason = "global total drifted from sum of user totals"
	}
	if err := r.store.AppendCorrection(ctx, rec); err != nil {
		return Report{}, err
	}
	metrics.RecordCorrectionWritten()

	r.logger.Warn(ctx, "aggregate drift detected",
		logger.Decimal("globalTotal", g.Total),
		logger.Decimal("userSum", userSum),
		logger.Decimal("discrepancy", discrepancy),
		logger.String("actor", rec.Actor),
		logger.Bool("autoCorrect", req.AutoCorrect),
	)

	report := Report{
		UserSum:     userSum,
		GlobalTotal: g.Total,
		Discrepancy: discrepancy,
	}
	if !req.AutoCorrect {
		return report, nil
	}

	// Hold the lock only for the correcting write, never for the scan.
	if err := r.lock.Acquire(ctx); err != nil {
		return Report{}, err
	}
	corrected, err := r.store.RecomputeGlobal(ctx)
	r.lock.Release()
	if err != nil {
		return Report{}, err
	}

	report.Corrected = true
	report.GlobalTotal = corrected.Total
	r.logger.Info(ctx, "global total corrected",
		logger.Decimal("correctedTotal", corrected.Total),
	)
	return report, nil
}
