// Package verify defines the contract for the upstream verification
// classifier. The ledger treats verification as an opaque collaborator: how
// an action is judged genuine is not this service's business, only whether
// it may enter the aggregates.
package verify

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Default classifier configuration constants.
const (
	defaultMinLatency    = 80 * time.Millisecond
	defaultMaxLatency    = 150 * time.Millisecond
	defaultRandomSeed    = 42
	defaultMinConfidence = 0.5
)

// Input abstracts the submission fields the classifier needs.
type Input struct {
	UserID      string
	Description string
	Quantity    decimal.Decimal
}

// Verdict is the classifier's answer.
type Verdict struct {
	Verified   bool
	Confidence float64
}

// Classifier judges whether a submitted action is genuine. Implementations
// may simulate latency to model an external ML service.
type Classifier interface {
	// Classify returns a verdict, honoring ctx for cancellation.
	Classify(ctx context.Context, in Input) (Verdict, error)
}

// Policy decides what happens to a submission when the upstream classifier
// fails or times out: low-risk low-quantity actions may auto-accept, the
// rest are held out of the aggregates for review.
type Policy struct {
	// AutoAcceptBelow is the exclusive quantity bound under which an
	// unverifiable action is accepted anyway. Zero disables auto-accept.
	AutoAcceptBelow decimal.Decimal
}

// AllowOnFailure reports whether a submission of the given quantity may
// commit despite an upstream verification failure.
func (p Policy) AllowOnFailure(quantity decimal.Decimal) bool {
	if p.AutoAcceptBelow.IsZero() {
		return false
	}
	return quantity.LessThan(p.AutoAcceptBelow)
}

// SimulatedClassifier implements Classifier with simulated upstream latency
// and a deterministic confidence stream, for dev mode and tests.
type SimulatedClassifier struct {
	mu            sync.Mutex
	minLatency    time.Duration
	maxLatency    time.Duration
	minConfidence float64
	rng           *rand.Rand
}

// NewSimulatedClassifier creates a classifier with configuration options.
func NewSimulatedClassifier(opts ...Option) *SimulatedClassifier {
	c := &SimulatedClassifier{
		minLatency:    defaultMinLatency,
		maxLatency:    defaultMaxLatency,
		minConfidence: defaultMinConfidence,
		rng:           rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify simulates the upstream call and returns a verdict.
func (c *SimulatedClassifier) Classify(ctx context.Context, in Input) (Verdict, error) {
	c.mu.Lock()
	latency := c.minLatency + time.Duration(c.rng.Int63n(int64(c.maxLatency-c.minLatency)))
	// Skew confidence high; a real classifier rejects outliers, not the bulk.
	confidence := 0.7 + 0.3*c.rng.Float64()
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return Verdict{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	return Verdict{
		Verified:   confidence >= c.minConfidence,
		Confidence: confidence,
	}, nil
}
