package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CorrectionRecord is an append-only audit entry written by the reconciler
// whenever the global total drifts from the sum of user totals. Detection
// always produces a record, whether or not auto-correction applied it.
type CorrectionRecord struct {
	ID             string          // uuid
	PreviousTotal  decimal.Decimal // global total before correction
	CorrectedTotal decimal.Decimal // exact sum of user totals
	Discrepancy    decimal.Decimal // |previous - corrected|
	Reason         string
	Actor          string // "scheduler" or the operator that requested the pass
	CreatedAt      time.Time
}
