// Package ledger implements the atomic, idempotent ingestion protocol over
// the event store and the aggregate layer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/adapters/mq/notify"
	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/internal/domain/verify"
	"github.com/ecotally/ecotally/pkg/logger"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// SubmitRequest is one logical submission.
type SubmitRequest struct {
	IdempotencyKey string
	UserID         string
	Quantity       decimal.Decimal
	Unit           string
	OccurredAt     time.Time
	Metadata       map[string]string

	// Description is the raw action text forwarded to the verification
	// classifier. Empty for pre-verified submissions.
	Description string

	// Verified marks submissions already cleared upstream; they skip the
	// classifier entirely.
	Verified bool
}

// SubmitResult carries the totals that resulted from this submission (or
// from the original submission, when IsDuplicate).
type SubmitResult struct {
	Accepted       bool
	IdempotencyKey string
	UserTotal      decimal.Decimal
	GlobalTotal    decimal.Decimal
	IsDuplicate    bool
}

// Ledger coordinates the ingestion protocol: duplicate resolution against
// the event store, the verification gate, the serialized atomic commit, and
// the post-commit fan-out to the rank index and the notifier.
type Ledger struct {
	store      repository.Store
	classifier verify.Classifier
	policy     verify.Policy
	notifier   notify.Notifier
	lock       *GlobalLock
	rankUpdate RankUpdate

	// held tracks submissions excluded from the aggregates pending
	// verification, keyed by idempotency key. Entries older than heldTTL
	// are swept so keys that are never retried cannot accumulate forever.
	heldMu  sync.RWMutex
	held    map[string]time.Time
	heldTTL time.Duration

	logger logger.Logger
}

// defaultHeldTTL bounds how long an unretried held key is remembered.
const defaultHeldTTL = 24 * time.Hour

// RankUpdate is invoked after every aggregate change so the leaderboard
// index can follow the aggregate layer.
type RankUpdate func(ctx context.Context, userID string, total decimal.Decimal, lastEventAt time.Time)

// New constructs a Ledger.
func New(store repository.Store, lock *GlobalLock, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		lock:    lock,
		held:    make(map[string]time.Time),
		heldTTL: defaultHeldTTL,
		logger:  logger.Get().Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit runs the ingestion protocol for one submission.
//
// The atomic unit (event insert + user aggregate + global aggregate) either
// fully commits or fully rolls back; partial state is never visible. The
// global aggregate is the serialization point: the commit happens under the
// global lock, and a lock timeout surfaces as ErrConflict, which the caller
// retries with the same idempotency key.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	ev := model.ActionEvent{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		OccurredAt:     req.OccurredAt,
		RecordedAt:     time.Now(),
		Verified:       true,
		Metadata:       req.Metadata,
	}
	if err := ev.Validate(); err != nil {
		metrics.RecordSubmissionRejected()
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	// Duplicate fast path: a committed event for this key means the
	// submission already landed. Return its original resulting totals.
	if stored, err := l.store.GetEvent(ctx, ev.IdempotencyKey); err == nil {
		return l.duplicateResult(ctx, stored)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return SubmitResult{}, err
	}

	// Verification gate: only verified events may enter the aggregates.
	if !req.Verified {
		autoAccepted, err := l.verifyOrHold(ctx, req)
		if err != nil {
			return SubmitResult{}, err
		}
		if autoAccepted {
			// The classifier never ruled on this one; the fallback policy
			// let it through. Keep that fact on the record.
			ev.Verified = false
			md := make(map[string]string, len(ev.Metadata)+1)
			for k, v := range ev.Metadata {
				md[k] = v
			}
			md["auto_accepted"] = "true"
			ev.Metadata = md
		}
	}
	l.unhold(ev.IdempotencyKey)

	if err := l.lock.Acquire(ctx); err != nil {
		metrics.RecordSubmissionConflict()
		return SubmitResult{}, err
	}

	err := l.store.CommitEvent(ctx, ev)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// A concurrent submission with the same key won the race. The
		// uniqueness guard rejected this insert, so nothing was applied
		// twice; answer with the committed totals.
		l.lock.Release()
		stored, getErr := l.store.GetEvent(ctx, ev.IdempotencyKey)
		if getErr != nil {
			return SubmitResult{}, getErr
		}
		return l.duplicateResult(ctx, stored)
	}
	if err != nil {
		l.lock.Release()
		return SubmitResult{}, err
	}

	// Read the resulting totals before releasing the lock so the pair is
	// the exact post-commit state, not a later one.
	ua, err := l.store.UserAggregate(ctx, ev.UserID)
	if err != nil {
		l.lock.Release()
		return SubmitResult{}, err
	}
	g, err := l.store.GlobalAggregate(ctx)
	l.lock.Release()
	if err != nil {
		return SubmitResult{}, err
	}

	metrics.RecordSubmissionCommitted()
	l.afterCommit(ctx, ev, ua, g)

	return SubmitResult{
		Accepted:       true,
		IdempotencyKey: ev.IdempotencyKey,
		UserTotal:      ua.Total,
		GlobalTotal:    g.Total,
	}, nil
}

// verifyOrHold runs the classifier and applies the fallback policy on
// upstream failure. A held submission is excluded from all aggregates.
// autoAccepted reports that the fallback policy, not the classifier,
// cleared the submission.
func (l *Ledger) verifyOrHold(ctx context.Context, req SubmitRequest) (autoAccepted bool, err error) {
	if l.classifier == nil {
		// No classifier wired: treat like an upstream outage.
		return l.holdOrAllow(ctx, req, fmt.Errorf("no classifier configured"))
	}

	start := time.Now()
	verdict, err := l.classifier.Classify(ctx, verify.Input{
		UserID:      req.UserID,
		Description: req.Description,
		Quantity:    req.Quantity,
	})
	metrics.RecordVerifyLatency(float64(time.Since(start).Milliseconds()))

	if err != nil {
		return l.holdOrAllow(ctx, req, err)
	}
	if !verdict.Verified {
		l.hold(req.IdempotencyKey)
		metrics.RecordSubmissionHeld()
		l.logger.Info(ctx, "submission not verified, holding",
			logger.String("idempotencyKey", req.IdempotencyKey),
			logger.String("userID", req.UserID),
			logger.Float64("confidence", verdict.Confidence),
		)
		return false, ErrVerificationPending
	}
	return false, nil
}

// holdOrAllow applies the fallback policy when the classifier fails.
func (l *Ledger) holdOrAllow(ctx context.Context, req SubmitRequest, cause error) (bool, error) {
	if l.policy.AllowOnFailure(req.Quantity) {
		l.logger.Warn(ctx, "verification unavailable, auto-accepting low-quantity action",
			logger.String("idempotencyKey", req.IdempotencyKey),
			logger.Decimal("quantity", req.Quantity),
			logger.Error(cause),
		)
		return true, nil
	}
	l.hold(req.IdempotencyKey)
	metrics.RecordSubmissionHeld()
	l.logger.Warn(ctx, "verification unavailable, holding submission",
		logger.String("idempotencyKey", req.IdempotencyKey),
		logger.Error(cause),
	)
	return false, ErrVerificationPending
}

// duplicateResult answers a re-submission with the totals the original
// commit produced. Re-submission never changes any aggregate.
func (l *Ledger) duplicateResult(ctx context.Context, ev model.ActionEvent) (SubmitResult, error) {
	metrics.RecordSubmissionDuplicate()

	if ev.HasResult() {
		return SubmitResult{
			Accepted:       true,
			IdempotencyKey: ev.IdempotencyKey,
			UserTotal:      ev.ResultUserTotal.Decimal,
			GlobalTotal:    ev.ResultGlobalTotal.Decimal,
			IsDuplicate:    true,
		}, nil
	}

	// Rows inserted by backfill carry no commit-time totals; their
	// aggregates came from a recompute. Answer with the current state.
	ua, err := l.store.UserAggregate(ctx, ev.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return SubmitResult{}, err
	}
	g, err := l.store.GlobalAggregate(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{
		Accepted:       true,
		IdempotencyKey: ev.IdempotencyKey,
		UserTotal:      ua.Total,
		GlobalTotal:    g.Total,
		IsDuplicate:    true,
	}, nil
}

// afterCommit fans a committed event out to the rank index and notifier.
// Both consumers read absolute totals, so delivery is allowed to be lossy
// and reordered without corrupting anything downstream.
func (l *Ledger) afterCommit(ctx context.Context, ev model.ActionEvent, ua model.UserAggregate, g model.GlobalAggregate) {
	if l.rankUpdate != nil {
		l.rankUpdate(ctx, ua.UserID, ua.Total, ua.LastEventAt)
	}
	if l.notifier != nil {
		l.notifier.Publish(ctx, notify.Notification{
			EventID:         ev.IdempotencyKey,
			UserID:          ev.UserID,
			QuantityApplied: ev.Quantity,
			UserTotal:       ua.Total,
			GlobalTotal:     g.Total,
			Timestamp:       time.Now(),
		})
	}

	if counts, err := l.store.Counts(ctx); err == nil {
		metrics.UpdateLedgerEvents(counts.Events)
		metrics.UpdateTrackedUsers(counts.Users)
	}
}

// UserTotal returns a user's exact running total; zero for unknown users.
func (l *Ledger) UserTotal(ctx context.Context, userID string) (decimal.Decimal, error) {
	ua, err := l.store.UserAggregate(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return ua.Total, nil
}

// GlobalTotal returns the exact global running total.
func (l *Ledger) GlobalTotal(ctx context.Context) (decimal.Decimal, error) {
	g, err := l.store.GlobalAggregate(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return g.Total, nil
}

// AuditTrail returns up to limit correction records, most recent first.
func (l *Ledger) AuditTrail(ctx context.Context, limit int) ([]model.CorrectionRecord, error) {
	return l.store.Corrections(ctx, limit)
}

// HeldCount reports submissions currently held pending verification.
func (l *Ledger) HeldCount() int {
	l.heldMu.RLock()
	defer l.heldMu.RUnlock()
	return len(l.held)
}

func (l *Ledger) hold(key string) {
	now := time.Now()
	l.heldMu.Lock()
	// Sweep keys that were never retried within the TTL so the map stays
	// bounded by the retry window, not by total submission volume.
	cutoff := now.Add(-l.heldTTL)
	for k, at := range l.held {
		if at.Before(cutoff) {
			delete(l.held, k)
		}
	}
	l.held[key] = now
	l.heldMu.Unlock()
}

func (l *Ledger) unhold(key string) {
	l.heldMu.Lock()
	delete(l.held, key)
	l.heldMu.Unlock()
}
