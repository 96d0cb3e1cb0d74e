// Package rank maintains the leaderboard index over user aggregates.
package rank

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// Treap-based, in-memory leaderboard index.
//
// Ordering: total DESC, then last contributing event DESC, then userID ASC.
// The comparator's "less" means ranks earlier, so in-order traversal walks
// the leaderboard from best to worst. The three-level key is a strict total
// order: two entries can never compare equal.

// record stores the ranking key for a user.
type record struct {
	total  decimal.Decimal
	lastAt time.Time
}

// Snapshot is an immutable snapshot of the leaderboard state published
// periodically for bounded-staleness readers.
type Snapshot struct {
	// Rank and total in O(1) for reads
	RankByUser  map[string]int
	TotalByUser map[string]decimal.Decimal

	// Fast Top-K cache up to M items, sorted best first
	TopCache []model.LeaderboardEntry
}

// treap node
type node struct {
	id     string
	total  decimal.Decimal
	lastAt time.Time
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aTotal, aLastAt, aID) ranks earlier than
// (bTotal, bLastAt, bID).
func less(aTotal decimal.Decimal, aLastAt time.Time, aID string, bTotal decimal.Decimal, bLastAt time.Time, bID string) bool {
	if c := aTotal.Cmp(bTotal); c != 0 {
		return c > 0 // higher total ranks earlier
	}
	if !aLastAt.Equal(bLastAt) {
		return aLastAt.After(bLastAt) // more recent activity ranks earlier
	}
	return aID < bID // stable deterministic tie-break
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, total decimal.Decimal, lastAt time.Time, prio uint64) *node {
	if n == nil {
		return &node{id: id, total: total, lastAt: lastAt, prio: prio, size: 1}
	}
	if less(total, lastAt, id, n.total, n.lastAt, n.id) {
		n.left = insert(n.left, id, total, lastAt, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, total, lastAt, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, total decimal.Decimal, lastAt time.Time) *node {
	if n == nil {
		return nil
	}
	if n.id == id && n.total.Equal(total) && n.lastAt.Equal(lastAt) {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, total, lastAt)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, total, lastAt)
		}
	} else if less(total, lastAt, id, n.total, n.lastAt, n.id) {
		n.left = deleteNode(n.left, id, total, lastAt)
	} else {
		n.right = deleteNode(n.right, id, total, lastAt)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order (best first).
func collectTopN(n *node, limit int, out *[]model.LeaderboardEntry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, model.LeaderboardEntry{
			UserID:      n.id,
			Total:       n.total,
			LastEventAt: n.lastAt,
		})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// collectAll appends all entries in rank order.
func collectAll(n *node, out *[]model.LeaderboardEntry) {
	if n == nil {
		return
	}
	collectAll(n.left, out)
	*out = append(*out, model.LeaderboardEntry{
		UserID:      n.id,
		Total:       n.total,
		LastEventAt: n.lastAt,
	})
	collectAll(n.right, out)
}

// Index is the mutable treap index plus its periodic snapshot.
type Index struct {
	mu               sync.RWMutex
	root             *node
	byID             map[string]record
	prng             *rand.Rand
	snapshotInterval time.Duration

	// snapshot is an atomic pointer to the latest published Snapshot
	snapshot atomic.Pointer[Snapshot]

	// Periodic snapshot management
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewIndex constructs a leaderboard index with configuration options.
func NewIndex(ctx context.Context, opts ...Option) *Index {
	ix := &Index{
		snapshotInterval: 1 * time.Second,
		byID:             make(map[string]record),
		prng:             rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // treap priorities, not crypto
	}
	for _, opt := range opts {
		opt(ix)
	}

	ix.stopChan = make(chan struct{})
	ix.startPeriodicSnapshots(ctx)
	return ix
}

// startPeriodicSnapshots publishes snapshots at the configured interval.
func (ix *Index) startPeriodicSnapshots(ctx context.Context) {
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ticker := time.NewTicker(ix.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ix.stopChan:
				return
			case <-ticker.C:
				ix.publishSnapshot()
			}
		}
	}()
}

// publishSnapshot rebuilds and publishes a new snapshot.
func (ix *Index) publishSnapshot() {
	start := time.Now()

	ix.mu.RLock()
	all := make([]model.LeaderboardEntry, 0, len(ix.byID))
	collectAll(ix.root, &all)
	ix.mu.RUnlock()

	rankByUser := make(map[string]int, len(all))
	totalByUser := make(map[string]decimal.Decimal, len(all))
	for i := range all {
		all[i].Rank = i + 1
		rankByUser[all[i].UserID] = all[i].Rank
		totalByUser[all[i].UserID] = all[i].Total
	}

	topCache := all
	if len(topCache) > defaultTopCacheSize {
		topCache = topCache[:defaultTopCacheSize]
	}

	ix.snapshot.Store(&Snapshot{
		RankByUser:  rankByUser,
		TotalByUser: totalByUser,
		TopCache:    topCache,
	})

	ms := float64(time.Since(start).Milliseconds())
	metrics.RecordRankSnapshotRebuildDuration(ms)
	metrics.UpdateRankSnapshotLastUnix(float64(time.Now().Unix()))
	metrics.IncrementRankSnapshotCount()
	metrics.UpdateRankIndexSize(len(rankByUser))
}

// defaultTopCacheSize bounds the snapshot's Top-K cache.
const defaultTopCacheSize = 500

// Close gracefully shuts down the periodic snapshot goroutine.
func (ix *Index) Close() error {
	select {
	case <-ix.stopChan:
		// already closed
	default:
		close(ix.stopChan)
	}
	ix.wg.Wait()
	return nil
}

// Update sets a user's ranking key to (total, lastEventAt). A zero total
// removes the user from the index: only users with total > 0 rank.
func (ix *Index) Update(ctx context.Context, userID string, total decimal.Decimal, lastEventAt time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.byID[userID]; ok {
		ix.root = deleteNode(ix.root, userID, old.total, old.lastAt)
		delete(ix.byID, userID)
	}
	if total.Sign() <= 0 {
		return
	}
	ix.byID[userID] = record{total: total, lastAt: lastEventAt}
	ix.root = insert(ix.root, userID, total, lastEventAt, ix.prng.Uint64())
}

// TopN returns the top N entries from the live index.
func (ix *Index) TopN(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	ix.mu.RLock()
	out := make([]model.LeaderboardEntry, 0, n)
	collectTopN(ix.root, n, &out)
	ix.mu.RUnlock()

	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// TopNCached serves from the latest published snapshot when one exists,
// falling back to the live index.
func (ix *Index) TopNCached(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	snap := ix.snapshot.Load()
	if snap == nil || len(snap.TopCache) < n && len(snap.TopCache) < ix.Count(ctx) {
		return ix.TopN(ctx, n)
	}
	if n > len(snap.TopCache) {
		n = len(snap.TopCache)
	}
	out := make([]model.LeaderboardEntry, n)
	copy(out, snap.TopCache[:n])
	return out, nil
}

// Rank returns the rank entry for one user.
// Returns ErrNotFound for users absent from the index.
func (ix *Index) Rank(ctx context.Context, userID string) (model.LeaderboardEntry, error) {
	ix.mu.RLock()
	rec, ok := ix.byID[userID]
	if !ok {
		ix.mu.RUnlock()
		return model.LeaderboardEntry{}, ErrNotFound
	}
	all := make([]model.LeaderboardEntry, 0, len(ix.byID))
	collectAll(ix.root, &all)
	ix.mu.RUnlock()

	for i := range all {
		if all[i].UserID == userID {
			all[i].Rank = i + 1
			return all[i], nil
		}
	}
	// byID and treap are updated under one lock; reaching here means a bug.
	return model.LeaderboardEntry{UserID: userID, Total: rec.total, LastEventAt: rec.lastAt}, ErrNotFound
}

// Count returns the number of ranked users.
func (ix *Index) Count(ctx context.Context) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}
