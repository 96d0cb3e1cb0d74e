// Package notify defines the contract for post-commit notifications.
//
// Delivery is at-least-once, never exactly-once: a subscriber may see a
// notification twice or out of order. Every notification carries absolute
// totals, so consumers apply last-write-wins by timestamp instead of
// re-deriving state from deltas.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/pkg/logger"
	"github.com/ecotally/ecotally/pkg/metrics"
)

// Default notifier configuration constants.
const (
	defaultOutboxSize     = 10000
	defaultSubscriberSize = 256
)

// Notification is the post-commit message published to subscribers.
type Notification struct {
	EventID         string          `json:"event_id"`
	UserID          string          `json:"user_id"`
	QuantityApplied decimal.Decimal `json:"quantity_applied"`
	UserTotal       decimal.Decimal `json:"user_total"`
	GlobalTotal     decimal.Decimal `json:"global_total"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Notifier publishes committed-event notifications to subscribers.
type Notifier interface {
	// Publish places a notification on the outbox.
	// Returns false if the outbox is full or closed; commits never block on it.
	Publish(ctx context.Context, n Notification) bool

	// Subscribe registers a named subscriber and returns its channel plus an
	// unsubscribe function. The channel closes on unsubscribe or Close.
	Subscribe(name string) (<-chan Notification, func())

	// Len returns the current outbox backlog.
	Len(ctx context.Context) int

	// Close shuts the notifier down; all subscriber channels close.
	Close() error

	// IsClosed reports whether the notifier has been closed.
	IsClosed() bool
}

// Broadcaster implements Notifier with a bounded outbox channel and one
// dispatcher goroutine fanning out to subscriber channels.
type Broadcaster struct {
	outbox         chan Notification
	outboxSize     int
	subscriberSize int

	mu          sync.RWMutex
	subscribers map[string]chan Notification
	closed      bool

	done chan struct{}

	logger logger.Logger
}

// NewBroadcaster creates a broadcaster with configuration options and starts
// its dispatcher.
func NewBroadcaster(ctx context.Context, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		outboxSize:     defaultOutboxSize,
		subscriberSize: defaultSubscriberSize,
		subscribers:    make(map[string]chan Notification),
		done:           make(chan struct{}),
		logger:         logger.Get().Named("notifier"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.outbox = make(chan Notification, b.outboxSize)

	go b.dispatch(ctx)

	metrics.UpdateNotifierBacklog(0)
	metrics.UpdateNotifierSubscribers(0)
	return b
}

// Publish implements Notifier.Publish.
func (b *Broadcaster) Publish(ctx context.Context, n Notification) bool {
	// The read lock stays held across the send: Close closes the outbox
	// under the write lock, so a send can never race a concurrent close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.RecordNotificationDropped()
		return false
	}

	select {
	case b.outbox <- n:
		metrics.RecordNotificationPublished()
		metrics.UpdateNotifierBacklog(len(b.outbox))
		return true
	case <-ctx.Done():
		metrics.RecordNotificationDropped()
		return false
	default:
		// Outbox full. Dropping is acceptable here: totals are absolute
		// snapshots, the next notification for the user supersedes this one.
		metrics.RecordNotificationDropped()
		metrics.RecordErrorByComponent("notifier", "outbox_full")
		return false
	}
}

// Subscribe implements Notifier.Subscribe.
func (b *Broadcaster) Subscribe(name string) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Notification, b.subscriberSize)
	b.subscribers[name] = ch
	metrics.UpdateNotifierSubscribers(len(b.subscribers))

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[name]; ok {
			delete(b.subscribers, name)
			close(sub)
			metrics.UpdateNotifierSubscribers(len(b.subscribers))
		}
	}
	return ch, unsubscribe
}

// Len implements Notifier.Len.
func (b *Broadcaster) Len(ctx context.Context) int {
	size := len(b.outbox)
	metrics.UpdateNotifierBacklog(size)
	return size
}

// Close implements Notifier.Close.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.outbox)
	b.mu.Unlock()

	// Wait for the dispatcher to drain, then close subscriber channels.
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, name)
	}
	metrics.UpdateNotifierSubscribers(0)
	return nil
}

// IsClosed implements Notifier.IsClosed.
func (b *Broadcaster) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// dispatch fans each outbox notification out to every subscriber. A slow
// subscriber with a full buffer misses the message rather than stalling the
// rest; the drop is counted and the next absolute snapshot supersedes it.
func (b *Broadcaster) dispatch(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case n, ok := <-b.outbox:
			if !ok {
				return
			}
			metrics.UpdateNotifierBacklog(len(b.outbox))

			b.mu.RLock()
			for name, ch := range b.subscribers {
				select {
				case ch <- n:
				default:
					metrics.RecordNotificationDropped()
					b.logger.Debug(ctx, "subscriber buffer full, dropping notification",
						logger.String("subscriber", name),
						logger.String("eventID", n.EventID),
					)
				}
			}
			b.mu.RUnlock()
		case <-ctx.Done():
			// The owning context is gone; stop even if Close was never called.
			return
		}
	}
}
