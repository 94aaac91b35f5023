package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so it reads and writes as "90s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// DatabaseConfig selects the gorm backend for idempotency keys and the audit
// trail.
type DatabaseConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// FeedConfig controls the change feed journal.
type FeedConfig struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
	Replay  bool   `toml:"Replay"`
}

// AuthConfig governs bearer token issuance and verification.
type AuthConfig struct {
	Enabled   bool     `toml:"Enabled"`
	JWTSecret string   `toml:"JWTSecret"`
	Issuer    string   `toml:"Issuer"`
	TokenTTL  Duration `toml:"TokenTTL"`
	LoginSkew Duration `toml:"LoginSkew"`
}

// RateLimitConfig is applied per authenticated caller (or client IP).
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// LoggingConfig tunes the slog handler and the optional rotated file sink.
type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// TelemetryConfig feeds observability/otel.Init.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// WebhookConfig enables delivery of committed events to an HTTP endpoint.
type WebhookConfig struct {
	Endpoint    string   `toml:"Endpoint"`
	Secret      string   `toml:"Secret"`
	MaxAttempts int      `toml:"MaxAttempts"`
	MinBackoff  Duration `toml:"MinBackoff"`
	MaxBackoff  Duration `toml:"MaxBackoff"`
}

// NotifierConfig bounds observer execution.
type NotifierConfig struct {
	ObserverTimeout Duration `toml:"ObserverTimeout"`
}
