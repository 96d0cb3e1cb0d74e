package rank

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound         = errors.New("user not ranked")
	ErrInvalidLimit     = errors.New("invalid leaderboard limit")
	ErrUnsupportedScope = errors.New("unsupported leaderboard scope or period")
)
