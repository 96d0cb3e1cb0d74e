// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/adapters/mq/notify"
	"github.com/ecotally/ecotally/internal/adapters/repository"
	"github.com/ecotally/ecotally/internal/domain/ledger"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/internal/domain/rank"
	"github.com/ecotally/ecotally/internal/domain/reconcile"
	"github.com/ecotally/ecotally/internal/domain/verify"
	"github.com/ecotally/ecotally/pkg/logger"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// Store backend identifiers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Service wires the ledger, reconciler, ranker, and notifier behind the
// surface the HTTP API consumes.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	lock       *ledger.GlobalLock
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	runner     *reconcile.Runner
	rankIndex  *rank.Index
	ranker     *rank.Ranker
	notifier   *notify.Broadcaster
	classifier verify.Classifier

	// Configuration
	storeBackend         string
	sqlitePath           string
	lockWait             time.Duration
	reconcileInterval    time.Duration
	autoCorrect          bool
	maxLeaderboardLimit  int
	rankSnapshotInterval time.Duration
	notifyBuffer         int
	subscriberBuffer     int
	verifyMinLatency     time.Duration
	verifyMaxLatency     time.Duration
	verifyConfidenceMin  float64
	autoAcceptBelow      decimal.Decimal

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStoreBackend selects the event store backend and its file path.
func WithStoreBackend(backend, sqlitePath string) Option {
	return func(s *Service) {
		if backend != "" {
			s.storeBackend = backend
		}
		if sqlitePath != "" {
			s.sqlitePath = sqlitePath
		}
	}
}

// WithLockWait bounds how long commits wait for the global slot.
func WithLockWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// WithReconcileInterval sets the scheduled reconciliation cadence.
func WithReconcileInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconcileInterval = d
		}
	}
}

// WithAutoCorrect lets scheduled passes rewrite a drifted global total.
func WithAutoCorrect(enabled bool) Option {
	return func(s *Service) {
		s.autoCorrect = enabled
	}
}

// WithMaxLeaderboardLimit caps leaderboard query sizes.
func WithMaxLeaderboardLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxLeaderboardLimit = limit
		}
	}
}

// WithRankSnapshotInterval sets the leaderboard snapshot rebuild cadence.
func WithRankSnapshotInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rankSnapshotInterval = d
		}
	}
}

// WithNotifyBuffers sizes the notification outbox and subscriber channels.
func WithNotifyBuffers(outbox, subscriber int) Option {
	return func(s *Service) {
		if outbox > 0 {
			s.notifyBuffer = outbox
		}
		if subscriber > 0 {
			s.subscriberBuffer = subscriber
		}
	}
}

// WithVerifyLatencyRange sets the simulated verification latency range.
func WithVerifyLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *Service) {
		if minLatency > 0 && maxLatency > minLatency {
			s.verifyMinLatency = minLatency
			s.verifyMaxLatency = maxLatency
		}
	}
}

// WithVerifyConfidenceMin sets the confidence floor for acceptance.
func WithVerifyConfidenceMin(min float64) Option {
	return func(s *Service) {
		if min > 0 {
			s.verifyConfidenceMin = min
		}
	}
}

// WithAutoAcceptBelow sets the fallback acceptance threshold used when the
// verifier is unavailable.
func WithAutoAcceptBelow(threshold decimal.Decimal) Option {
	return func(s *Service) {
		s.autoAcceptBelow = threshold
	}
}

// WithClassifier overrides the verification collaborator, mainly for tests.
func WithClassifier(c verify.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(lg logger.Logger) Option {
	return func(s *Service) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeBackend:         StoreMemory,
		sqlitePath:           "ecotally.db",
		lockWait:             5 * time.Second,
		reconcileInterval:    time.Hour,
		autoCorrect:          true,
		maxLeaderboardLimit:  100,
		rankSnapshotInterval: time.Second,
		notifyBuffer:         10_000,
		subscriberBuffer:     256,
		verifyMinLatency:     80 * time.Millisecond,
		verifyMaxLatency:     150 * time.Millisecond,
		verifyConfidenceMin:  0.5,
		autoAcceptBelow:      decimal.NewFromInt(5),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting ledger service...")

	switch s.storeBackend {
	case StoreSQLite:
		store, err := repository.NewSQLiteStore(ctx, s.sqlitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.sqlitePath))
	default:
		s.store = repository.NewMemoryStore(ctx)
		s.logger.Info(ctx, "using memory store")
	}

	s.lock = ledger.NewGlobalLock(s.lockWait)
	if s.classifier == nil {
		s.classifier = verify.NewSimulatedClassifier(
			verify.WithLatencyRange(s.verifyMinLatency, s.verifyMaxLatency),
			verify.WithMinConfidence(s.verifyConfidenceMin),
		)
	}
	s.notifier = notify.NewBroadcaster(ctx,
		notify.WithOutboxSize(s.notifyBuffer),
		notify.WithSubscriberBuffer(s.subscriberBuffer),
	)
	s.rankIndex = rank.NewIndex(ctx,
		rank.WithSnapshotInterval(s.rankSnapshotInterval),
	)
	s.ranker = rank.NewRanker(s.rankIndex, s.store)

	s.ledger = ledger.New(s.store, s.lock,
		ledger.WithClassifier(s.classifier),
		ledger.WithFallbackPolicy(verify.Policy{AutoAcceptBelow: s.autoAcceptBelow}),
		ledger.WithNotifier(s.notifier),
		ledger.WithRankUpdate(s.rankIndex.Update),
	)

	// A durable store survives restarts; the in-memory rank index does not.
	// Rebuild it from the aggregate layer before serving queries.
	if err := s.seedRankIndex(ctx); err != nil {
		return fmt.Errorf("seed rank index: %w", err)
	}

	s.reconciler = reconcile.New(s.store, s.lock)
	s.runner = reconcile.NewRunner(s.reconciler, s.reconcileInterval, s.autoCorrect)
	s.runner.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "ledger service started",
		logger.String("store", s.storeBackend),
		logger.String("reconcileInterval", s.reconcileInterval.String()),
		logger.Bool("autoCorrect", s.autoCorrect),
	)

	return nil
}

func (s *Service) seedRankIndex(ctx context.Context) error {
	aggs, err := s.store.UserAggregates(ctx)
	if err != nil {
		return err
	}
	for _, ua := range aggs {
		s.rankIndex.Update(ctx, ua.UserID, ua.Total, ua.LastEventAt)
	}
	if len(aggs) > 0 {
		s.logger.Info(ctx, "rank index rebuilt from aggregates",
			logger.Int("users", len(aggs)),
		)
	}
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping ledger service...")

	if s.runner != nil {
		if err := s.runner.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "reconcile runner shutdown", logger.Error(err))
		}
	}
	if s.notifier != nil {
		_ = s.notifier.Close()
	}
	if s.rankIndex != nil {
		_ = s.rankIndex.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "store close", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "ledger service stopped")
}

// Submit records one climate action through the atomic ingestion protocol.
func (s *Service) Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.SubmitResult, error) {
	return s.ledger.Submit(ctx, req)
}

// Backfill ingests a historical batch and recomputes touched aggregates.
func (s *Service) Backfill(ctx context.Context, req ledger.BackfillRequest) (ledger.BackfillResult, error) {
	return s.ledger.Backfill(ctx, req)
}

// Reconcile runs one on-demand reconciliation pass.
func (s *Service) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Report, error) {
	return s.reconciler.Reconcile(ctx, req)
}

// UserTotal returns the running total for one user, zero if unknown.
func (s *Service) UserTotal(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.ledger.UserTotal(ctx, userID)
}

// GlobalTotal returns the community-wide running total.
func (s *Service) GlobalTotal(ctx context.Context) (decimal.Decimal, error) {
	return s.ledger.GlobalTotal(ctx)
}

// Leaderboard answers a ranking query.
func (s *Service) Leaderboard(ctx context.Context, q rank.Query) ([]model.LeaderboardEntry, error) {
	return s.ranker.Rank(ctx, q)
}

// UserRank returns the ranked entry for one user.
func (s *Service) UserRank(ctx context.Context, userID string) (model.LeaderboardEntry, error) {
	return s.ranker.UserRank(ctx, userID)
}

// AuditTrail returns the most recent correction records.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]model.CorrectionRecord, error) {
	return s.ledger.AuditTrail(ctx, limit)
}

// Subscribe attaches a notification consumer. The cancel function detaches it.
func (s *Service) Subscribe(name string) (<-chan notify.Notification, func()) {
	return s.notifier.Subscribe(name)
}

// MaxLeaderboardLimit exposes the configured leaderboard cap.
func (s *Service) MaxLeaderboardLimit() int {
	return s.maxLeaderboardLimit
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":             s.started,
		"store":               s.storeBackend,
		"autoCorrect":         s.autoCorrect,
		"maxLeaderboardLimit": s.maxLeaderboardLimit,
	}

	if s.started {
		if counts, err := s.store.Counts(ctx); err == nil {
			stats["totalEvents"] = counts.Events
			stats["trackedUsers"] = counts.Users
			metrics.UpdateLedgerEvents(counts.Events)
			metrics.UpdateTrackedUsers(counts.Users)
		}
		stats["rankedUsers"] = s.rankIndex.Count(ctx)
		stats["heldSubmissions"] = s.ledger.HeldCount()
		stats["notifierBacklog"] = s.notifier.Len(ctx)
	}

	return stats
}
