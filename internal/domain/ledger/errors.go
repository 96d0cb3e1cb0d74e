package ledger

import "errors"

// Sentinel kinds for ingestion errors.
var (
	// ErrValidation marks input rejected before any write. Not retryable.
	ErrValidation = errors.New("invalid submission")

	// ErrConflict marks contention on the global aggregate. The identical
	// call is safe to retry: the idempotency key makes re-submission a
	// no-op if the first attempt actually landed.
	ErrConflict = errors.New("transaction conflict on global aggregate")

	// ErrVerificationPending marks a submission held out of the aggregates
	// until the upstream classifier verifies it.
	ErrVerificationPending = errors.New("submission held pending verification")
)
