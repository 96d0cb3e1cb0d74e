package repository

import "time"

// sqliteConfig carries connection tuning for the SQLite store.
type sqliteConfig struct {
	busyTimeout time.Duration
	walMode     bool
}

// SQLiteOption applies a configuration option to the SQLite store.
type SQLiteOption func(*sqliteConfig)

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(c *sqliteConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// WithWALMode enables or disables write-ahead logging.
func WithWALMode(enabled bool) SQLiteOption {
	return func(c *sqliteConfig) {
		c.walMode = enabled
	}
}
