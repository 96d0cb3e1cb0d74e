package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ecotally/ecotally/internal/adapters/mq/notify"
	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/logger"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// BackfillRequest is a bulk batch of historical events.
type BackfillRequest struct {
	BatchKey string
	Events   []SubmitRequest
}

// BackfillResult reports what a batch did.
type BackfillResult struct {
	InsertedCount int
	SkippedCount  int
	GlobalTotal   string
	AffectedUsers []string
}

// Backfill inserts a historical batch and recomputes the touched aggregates
// from source-of-truth sums.
//
// It deliberately does NOT add the batch's quantities to the aggregates:
// a batch may partially overlap previously committed data, and blind deltas
// would double-count the overlap. Recomputing every touched user from the
// event ledger, then the global from the user totals, is correct even when
// the batch races live traffic, so re-running an identical batch lands on
// an identical end state.
func (l *Ledger) Backfill(ctx context.Context, req BackfillRequest) (BackfillResult, error) {
	if len(req.Events) == 0 {
		return BackfillResult{}, fmt.Errorf("%w: empty batch", ErrValidation)
	}

	events := make([]model.ActionEvent, 0, len(req.Events))
	for i := range req.Events {
		sr := &req.Events[i]
		ev := model.ActionEvent{
			IdempotencyKey: sr.IdempotencyKey,
			UserID:         sr.UserID,
			Quantity:       sr.Quantity,
			Unit:           sr.Unit,
			OccurredAt:     sr.OccurredAt,
			RecordedAt:     time.Now(),
			Verified:       true,
			Metadata:       sr.Metadata,
		}
		// Reject the whole batch before any write rather than leave a
		// half-inserted batch behind a validation error.
		if err := ev.Validate(); err != nil {
			metrics.RecordSubmissionRejected()
			return BackfillResult{}, fmt.Errorf("%w: event %d: %s", ErrValidation, i, err.Error())
		}
		events = append(events, ev)
	}

	var res BackfillResult
	touched := make(map[string]struct{})
	inserted := make([]model.ActionEvent, 0, len(events))
	for i := range events {
		touched[events[i].UserID] = struct{}{}
		err := l.store.InsertEventOnly(ctx, events[i])
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			res.SkippedCount++
		case err != nil:
			return BackfillResult{}, err
		default:
			res.InsertedCount++
			inserted = append(inserted, events[i])
		}
	}

	// Recompute under the same serialization discipline as live commits so
	// the global write cannot race a concurrent submission.
	if err := l.lock.Acquire(ctx); err != nil {
		metrics.RecordSubmissionConflict()
		return BackfillResult{}, err
	}

	recomputed := make(map[string]model.UserAggregate, len(touched))
	for userID := range touched {
		ua, err := l.store.RecomputeUser(ctx, userID)
		if err != nil {
			l.lock.Release()
			return BackfillResult{}, err
		}
		recomputed[userID] = ua
	}
	g, err := l.store.RecomputeGlobal(ctx)
	l.lock.Release()
	if err != nil {
		return BackfillResult{}, err
	}

	for userID := range touched {
		res.AffectedUsers = append(res.AffectedUsers, userID)
	}
	sort.Strings(res.AffectedUsers)
	res.GlobalTotal = g.Total.String()

	metrics.RecordBackfillRun()
	metrics.RecordBackfillInserted(res.InsertedCount)
	metrics.RecordBackfillSkipped(res.SkippedCount)

	for userID, ua := range recomputed {
		if l.rankUpdate != nil {
			l.rankUpdate(ctx, userID, ua.Total, ua.LastEventAt)
		}
	}
	if l.notifier != nil {
		now := time.Now()
		for i := range inserted {
			ua := recomputed[inserted[i].UserID]
			l.notifier.Publish(ctx, notify.Notification{
				EventID:         inserted[i].IdempotencyKey,
				UserID:          inserted[i].UserID,
				QuantityApplied: inserted[i].Quantity,
				UserTotal:       ua.Total,
				GlobalTotal:     g.Total,
				Timestamp:       now,
			})
		}
	}

	if counts, err := l.store.Counts(ctx); err == nil {
		metrics.UpdateLedgerEvents(counts.Events)
		metrics.UpdateTrackedUsers(counts.Users)
	}

	l.logger.Info(ctx, "backfill batch processed",
		logger.String("batchKey", req.BatchKey),
		logger.Int("inserted", res.InsertedCount),
		logger.Int("skipped", res.SkippedCount),
		logger.Int("affectedUsers", len(res.AffectedUsers)),
	)
	return res, nil
}
