package api

import "fmt"

// Error kind helpers. Handlers tag errors with an operation name and a
// sentinel kind so callers and logs can classify them with errors.Is.

// NewKind returns an error of the given kind tagged with op.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind wraps err under the given kind, tagged with op.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %s", op, kind, err.Error())
}

// Wrap tags err with op without changing its kind.
func Wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
