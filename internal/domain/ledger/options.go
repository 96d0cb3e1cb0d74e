package ledger

import (
	"time"

	"github.com/ecotally/ecotally/internal/adapters/mq/notify"
	"github.com/ecotally/ecotally/internal/domain/verify"
	"github.com/ecotally/ecotally/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithClassifier wires the verification collaborator.
func WithClassifier(c verify.Classifier) Option {
	return func(l *Ledger) {
		if c != nil {
			l.classifier = c
		}
	}
}

// WithFallbackPolicy sets what happens when verification is unavailable.
func WithFallbackPolicy(p verify.Policy) Option {
	return func(l *Ledger) {
		l.policy = p
	}
}

// WithNotifier wires the post-commit notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Ledger) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithRankUpdate wires the leaderboard index follower.
func WithRankUpdate(fn RankUpdate) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.rankUpdate = fn
		}
	}
}

// WithHeldTTL overrides how long an unretried held key is remembered.
func WithHeldTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.heldTTL = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}
