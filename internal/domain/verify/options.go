package verify

import "time"

// Option applies a configuration option to the SimulatedClassifier.
type Option func(*SimulatedClassifier)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(c *SimulatedClassifier) {
		if minLatency > 0 && maxLatency > minLatency {
			c.minLatency = minLatency
			c.maxLatency = maxLatency
		}
	}
}

// WithMinConfidence sets the confidence below which a verdict is unverified.
func WithMinConfidence(min float64) Option {
	return func(c *SimulatedClassifier) {
		if min > 0 && min <= 1 {
			c.minConfidence = min
		}
	}
}
