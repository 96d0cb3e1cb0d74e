package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// MemoryStore is the in-memory Store used by tests and dev mode. One RWMutex
// guards the whole state, so CommitEvent is trivially atomic: either every
// map mutation happens under the lock or none does.
type MemoryStore struct {
	mu sync.RWMutex

	events      map[string]model.ActionEvent
	users       map[string]model.UserAggregate
	global      model.GlobalAggregate
	corrections []model.CorrectionRecord

	closed bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(ctx context.Context) *MemoryStore {
	return &MemoryStore{
		events: make(map[string]model.ActionEvent),
		users:  make(map[string]model.UserAggregate),
		global: model.GlobalAggregate{Total: decimal.Zero},
	}
}

// GetEvent implements Store.GetEvent.
func (s *MemoryStore) GetEvent(ctx context.Context, idempotencyKey string) (model.ActionEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.ActionEvent{}, ErrClosed
	}
	ev, ok := s.events[idempotencyKey]
	if !ok {
		return model.ActionEvent{}, ErrNotFound
	}
	return cloneEvent(ev), nil
}

// CommitEvent implements Store.CommitEvent.
func (s *MemoryStore) CommitEvent(ctx context.Context, ev model.ActionEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreCommitLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.events[ev.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}

	ua, ok := s.users[ev.UserID]
	if !ok {
		ua = model.UserAggregate{UserID: ev.UserID, Total: decimal.Zero}
	}
	ua.Total = ua.Total.Add(ev.Quantity)
	ua.EventCount++
	if ev.OccurredAt.After(ua.LastEventAt) {
		ua.LastEventAt = ev.OccurredAt
	}
	s.users[ev.UserID] = ua

	s.global.Total = s.global.Total.Add(ev.Quantity)
	s.global.EventCount++
	s.global.UpdatedAt = ev.RecordedAt

	// The row remembers the totals its own commit produced so a duplicate
	// replay can echo the original outcome.
	stored := cloneEvent(ev)
	stored.ResultUserTotal = decimal.NewNullDecimal(ua.Total)
	stored.ResultGlobalTotal = decimal.NewNullDecimal(s.global.Total)
	s.events[ev.IdempotencyKey] = stored

	return nil
}

// InsertEventOnly implements Store.InsertEventOnly.
func (s *MemoryStore) InsertEventOnly(ctx context.Context, ev model.ActionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.events[ev.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	s.events[ev.IdempotencyKey] = cloneEvent(ev)
	return nil
}

// UserAggregate implements Store.UserAggregate.
func (s *MemoryStore) UserAggregate(ctx context.Context, userID string) (model.UserAggregate, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.UserAggregate{}, ErrClosed
	}
	ua, ok := s.users[userID]
	if !ok {
		return model.UserAggregate{}, ErrNotFound
	}
	return ua, nil
}

// UserAggregates implements Store.UserAggregates. The slice is built under
// one read lock, so it is a consistent snapshot of the aggregate layer.
func (s *MemoryStore) UserAggregates(ctx context.Context) ([]model.UserAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.UserAggregate, 0, len(s.users))
	for _, ua := range s.users {
		out = append(out, ua)
	}
	return out, nil
}

// GlobalAggregate implements Store.GlobalAggregate.
func (s *MemoryStore) GlobalAggregate(ctx context.Context) (model.GlobalAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.GlobalAggregate{}, ErrClosed
	}
	return s.global, nil
}

// RecomputeUser implements Store.RecomputeUser.
func (s *MemoryStore) RecomputeUser(ctx context.Context, userID string) (model.UserAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.UserAggregate{}, ErrClosed
	}

	ua := model.UserAggregate{UserID: userID, Total: decimal.Zero}
	for _, ev := range s.events {
		if ev.UserID != userID {
			continue
		}
		ua.Total = ua.Total.Add(ev.Quantity)
		ua.EventCount++
		if ev.OccurredAt.After(ua.LastEventAt) {
			ua.LastEventAt = ev.OccurredAt
		}
	}
	if ua.EventCount == 0 {
		return model.UserAggregate{}, ErrNotFound
	}
	s.users[userID] = ua
	return ua, nil
}

// RecomputeGlobal implements Store.RecomputeGlobal.
func (s *MemoryStore) RecomputeGlobal(ctx context.Context) (model.GlobalAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.GlobalAggregate{}, ErrClosed
	}

	total := decimal.Zero
	var count int64
	for _, ua := range s.users {
		total = total.Add(ua.Total)
		count += ua.EventCount
	}
	s.global.Total = total
	s.global.EventCount = count
	s.global.UpdatedAt = time.Now()
	return s.global, nil
}

// SetGlobalTotal implements Store.SetGlobalTotal.
func (s *MemoryStore) SetGlobalTotal(ctx context.Context, total decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.global.Total = total
	s.global.UpdatedAt = at
	return nil
}

// AppendCorrection implements Store.AppendCorrection.
func (s *MemoryStore) AppendCorrection(ctx context.Context, rec model.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.corrections = append(s.corrections, rec)
	return nil
}

// Corrections implements Store.Corrections, most recent first.
func (s *MemoryStore) Corrections(ctx context.Context, limit int) ([]model.CorrectionRecord, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.corrections)
	if limit > n {
		limit = n
	}
	out := make([]model.CorrectionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.corrections[i])
	}
	return out, nil
}

// Counts implements Store.Counts.
func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Counts{}, ErrClosed
	}
	return Counts{Events: len(s.events), Users: len(s.users)}, nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cloneEvent copies an event including its metadata map so committed rows
// stay immutable even if the caller mutates its map afterwards.
func cloneEvent(ev model.ActionEvent) model.ActionEvent {
	if ev.Metadata == nil {
		return ev
	}
	md := make(map[string]string, len(ev.Metadata))
	for k, v := range ev.Metadata {
		md[k] = v
	}
	ev.Metadata = md
	return ev
}
