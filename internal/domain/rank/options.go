package rank

import "time"

// Option applies a configuration option to the Index.
type Option func(*Index)

// WithSnapshotInterval sets how often the index publishes snapshots.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(ix *Index) {
		if interval > 0 {
			ix.snapshotInterval = interval
		}
	}
}
