package config

import (
	"strconv"
	"strings"
)

// Environment variables that override file values.
const (
	EnvOwnerAddress = "DRIVECHAIN_OWNER_ADDRESS"
	EnvJWTSecret    = "DRIVECHAIN_JWT_SECRET"
	EnvDatabaseURL  = "DRIVECHAIN_DATABASE_URL"
	EnvListen       = "DRIVECHAIN_LISTEN"
	EnvEnvironment  = "DRIVECHAIN_ENV"
	EnvPaused       = "DRIVECHAIN_PAUSED_MODULES"
	EnvWebhookURL   = "DRIVECHAIN_WEBHOOK_URL"
	EnvOTLPEndpoint = "DRIVECHAIN_OTLP_ENDPOINT"
	EnvAuthEnabled  = "DRIVECHAIN_AUTH_ENABLED"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}
	if v, ok := get(EnvOwnerAddress); ok {
		cfg.OwnerAddress = v
	}
	if v, ok := get(EnvJWTSecret); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = "postgres"
		}
	}
	if v, ok := get(EnvListen); ok {
		cfg.ListenAddress = v
	}
	if v, ok := get(EnvEnvironment); ok {
		cfg.Environment = v
	}
	if v, ok := get(EnvPaused); ok {
		var modules []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				modules = append(modules, m)
			}
		}
		cfg.PausedModules = modules
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Webhook.Endpoint = v
	}
	if v, ok := get(EnvOTLPEndpoint); ok {
		cfg.Telemetry.Endpoint = v
	}
	if v, ok := get(EnvAuthEnabled); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = enabled
		}
	}
}
