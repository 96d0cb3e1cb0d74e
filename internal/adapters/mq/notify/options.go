package notify

// Option applies a configuration option to the Broadcaster.
type Option func(*Broadcaster)

// WithOutboxSize bounds the outbox channel.
func WithOutboxSize(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.outboxSize = size
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel buffer.
func WithSubscriberBuffer(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.subscriberSize = size
		}
	}
}
