// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ActionEvent is one committed climate-action event. It is immutable once
// committed: the ledger never updates or deletes a row, corrections happen
// through recompute and the audit trail.
type ActionEvent struct {
	IdempotencyKey string            // unique token identifying one logical submission
	UserID         string            // owning user
	Quantity       decimal.Decimal   // exact decimal, >= 0
	Unit           string            // opaque unit tag, e.g. "kg_co2e"
	OccurredAt     time.Time         // when the action happened
	RecordedAt     time.Time         // when the ledger committed it
	Verified       bool              // upstream classifier verdict
	Metadata       map[string]string // free-form submission metadata

	// ResultUserTotal and ResultGlobalTotal are the totals this event's own
	// commit produced, captured by the store inside the atomic unit. A
	// duplicate replay echoes these instead of whatever the totals have
	// since become. Rows inserted by backfill carry no result (not Valid):
	// their aggregates come from a later recompute, not from the insert.
	ResultUserTotal   decimal.NullDecimal
	ResultGlobalTotal decimal.NullDecimal
}

// HasResult reports whether the row captured its commit-time totals.
func (e *ActionEvent) HasResult() bool {
	return e.ResultUserTotal.Valid && e.ResultGlobalTotal.Valid
}

// Validate checks the fields a submission must carry before any write.
func (e *ActionEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.IdempotencyKey) == "":
		return errors.New("missing idempotency key")
	case strings.TrimSpace(e.UserID) == "":
		return errors.New("missing user id")
	case e.OccurredAt.IsZero():
		return errors.New("missing occurrence time")
	case e.Quantity.IsNegative():
		return errors.New("quantity must not be negative")
	}
	return nil
}

// ParseQuantity parses a decimal quantity from its text form. Quantities cross
// every boundary as text, never as binary floating point.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, errors.New("missing quantity")
	}
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.New("malformed quantity; must be a decimal string")
	}
	if q.IsNegative() {
		return decimal.Decimal{}, errors.New("quantity must not be negative")
	}
	return q, nil
}
