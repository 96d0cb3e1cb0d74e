package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if ECOTALLY_CONFIG is set
//  3. env (prefix ECOTALLY_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("ECOTALLY_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrLoadConfig, err.Error())
		}
	}

	// Environment variables: ECOTALLY_ADDR, ECOTALLY_LOCK_WAIT, ...
	// Map env keys like ECOTALLY_LOCK_WAIT -> lock_wait (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("ECOTALLY_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "ecotally_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLoadConfig, err.Error())
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLoadConfig, err.Error())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: store must be memory or sqlite, got %q", ErrInvalidConfig, c.Store)
	}
	if c.Store == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("%w: lock_wait must be positive", ErrInvalidConfig)
	}
	if c.MaxLeaderboardLimit <= 0 {
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	if c.VerifyLatencyMinMS < 0 || c.VerifyLatencyMaxMS < c.VerifyLatencyMinMS {
		return fmt.Errorf("%w: verify latency bounds are inverted", ErrInvalidConfig)
	}
	if _, err := decimal.NewFromString(c.VerifyAutoAcceptBelow); err != nil {
		return fmt.Errorf("%w: verify_auto_accept_below is not a decimal: %s", ErrInvalidConfig, err.Error())
	}
	return nil
}

// AutoAcceptBelow parses the fallback acceptance threshold. Load has already
// validated the text, so parse failures map to zero.
func (c *Config) AutoAcceptBelow() decimal.Decimal {
	d, err := decimal.NewFromString(c.VerifyAutoAcceptBelow)
	if err != nil {
		return decimal.Zero
	}
	return d
}
