package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"drivechain/crypto"
	nativecommon "drivechain/native/common"
)

// Validate checks the configuration for values ledgerd cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("config: ListenAddress required")
	}
	owner, err := c.Owner()
	if err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return errors.New("config: OwnerAddress required")
	}
	for serviceType, m := range c.Multipliers {
		if strings.TrimSpace(serviceType) == "" {
			return errors.New("config: empty service type in Multipliers")
		}
		if m == 0 {
			return fmt.Errorf("config: multiplier for %q must be at least 1", serviceType)
		}
	}
	for _, module := range c.PausedModules {
		switch strings.ToLower(strings.TrimSpace(module)) {
		case nativecommon.ModuleRecords, nativecommon.ModulePoints, nativecommon.ModuleMultipliers:
		default:
			return fmt.Errorf("config: unknown paused module %q", module)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: Database.DSN required for postgres")
	}
	switch c.Feed.Backend {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("config: unsupported feed backend %q", c.Feed.Backend)
	}
	if c.Auth.Enabled {
		if len(strings.TrimSpace(c.Auth.JWTSecret)) < 16 {
			return errors.New("config: Auth.JWTSecret must be at least 16 characters when auth is enabled")
		}
		if c.Auth.TokenTTL.Duration <= 0 {
			return errors.New("config: Auth.TokenTTL must be positive")
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if c.Webhook.Endpoint != "" {
		if c.Webhook.MaxAttempts <= 0 {
			return errors.New("config: Webhook.MaxAttempts must be positive")
		}
		if c.Webhook.MaxBackoff.Duration < c.Webhook.MinBackoff.Duration {
			return errors.New("config: Webhook.MaxBackoff below MinBackoff")
		}
	}
	return nil
}

// Owner parses OwnerAddress (hex or bech32).
func (c *Config) Owner() (common.Address, error) {
	raw := strings.TrimSpace(c.OwnerAddress)
	if raw == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("config: OwnerAddress: %w", err)
	}
	return addr, nil
}
