package config

import (
	"errors"
)

// Sentinel errors so callers can distinguish a file or provider failure
// from a configuration that loaded but failed validation.
var (
	ErrLoadConfig    = errors.New("load config failed")
	ErrInvalidConfig = errors.New("invalid config")
)
