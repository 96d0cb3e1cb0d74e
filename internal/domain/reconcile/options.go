package reconcile

import "github.com/ecotally/ecotally/pkg/logger"

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(r *Reconciler) {
		if lg != nil {
			r.logger = lg
		}
	}
}
