package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"drivechain/crypto"
	"drivechain/native/multiplier"
)

// Config is the ledgerd service configuration.
type Config struct {
	ListenAddress      string            `toml:"ListenAddress"`
	Environment        string            `toml:"Environment"`
	DataDir            string            `toml:"DataDir"`
	OwnerAddress       string            `toml:"OwnerAddress"`
	OwnerKeystorePath  string            `toml:"OwnerKeystorePath"`
	PausedModules      []string          `toml:"PausedModules"`
	MultiplierSeedFile string            `toml:"MultiplierSeedFile"`
	Multipliers        map[string]uint64 `toml:"Multipliers"`

	Database  DatabaseConfig  `toml:"Database"`
	Feed      FeedConfig      `toml:"Feed"`
	Auth      AuthConfig      `toml:"Auth"`
	RateLimit RateLimitConfig `toml:"RateLimit"`
	Logging   LoggingConfig   `toml:"Logging"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
	Webhook   WebhookConfig   `toml:"Webhook"`
	Notifier  NotifierConfig  `toml:"Notifier"`
}

type loadOptions struct {
	passphrase string
	lookupEnv  func(string) (string, bool)
}

// Option customises Load.
type Option func(*loadOptions)

// WithKeystorePassphrase supplies the passphrase used to encrypt the owner
// keystore generated alongside a fresh default configuration.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// WithEnv replaces the environment lookup, mainly for tests.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.lookupEnv = lookup
		}
	}
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a freshly generated owner keystore. DRIVECHAIN_*
// environment variables override file values, and the result is validated.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path, options.passphrase)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	applyEnv(cfg, options.lookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		Environment:   "dev",
		DataDir:       "./drivechain-data",
		PausedModules: []string{},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Feed: FeedConfig{
			Backend: "leveldb",
			Replay:  true,
		},
		Auth: AuthConfig{
			Enabled:   true,
			Issuer:    "drivechain",
			TokenTTL:  Duration{time.Hour},
			LoginSkew: Duration{5 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Webhook: WebhookConfig{
			MaxAttempts: 5,
			MinBackoff:  Duration{2 * time.Second},
			MaxBackoff:  Duration{30 * time.Second},
		},
		Notifier: NotifierConfig{
			ObserverTimeout: Duration{10 * time.Second},
		},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Database.DSN) == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = filepath.Join(c.DataDir, "ledgerd.db")
	}
	if strings.TrimSpace(c.Feed.Path) == "" {
		c.Feed.Path = filepath.Join(c.DataDir, "feed")
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
}

// MultiplierSeed resolves the genesis multiplier table: the YAML seed file
// when configured, else the inline table, else the default service types.
func (c *Config) MultiplierSeed() (map[string]uint64, error) {
	if path := strings.TrimSpace(c.MultiplierSeedFile); path != "" {
		return multiplier.LoadSeedFile(path)
	}
	if len(c.Multipliers) > 0 {
		out := make(map[string]uint64, len(c.Multipliers))
		for k, v := range c.Multipliers {
			out[k] = v
		}
		return out, nil
	}
	return multiplier.DefaultSeed(), nil
}

// createDefault creates and saves a default configuration file together with
// an owner keystore.
func createDefault(path, passphrase string) (*Config, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("owner keystore passphrase required to create a default configuration")
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.OwnerAddress = key.Address().Hex()
	cfg.OwnerKeystorePath = keystorePath
	cfg.Auth.JWTSecret = secret
	cfg.Multipliers = multiplier.DefaultSeed()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
