// Package config loads and validates the drivesync service configuration.
//
// Configuration is resolved in three layers: built-in defaults, a TOML
// config file, and DRIVESYNC_* environment variables. Unknown keys in the
// config file are fatal — silently ignoring a typo leads to hard-to-debug
// behavior.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values for configuration options. These are "layer 0" of the
// override chain and work out of the box for local development.
const (
	defaultDatabasePath    = "drivesync.db"
	defaultProviderBaseURL = "https://www.googleapis.com/drive/v3"
	defaultTokenURL        = "https://oauth2.googleapis.com/token"
	defaultFolderBudget    = 20
	defaultPollInterval    = "5s"
	defaultSecretEnv       = "DRIVESYNC_SECRET_KEY"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "DRIVESYNC_CONFIG"
	EnvDatabasePath = "DRIVESYNC_DATABASE_PATH"
	EnvClientID     = "DRIVESYNC_CLIENT_ID"
	EnvClientSecret = "DRIVESYNC_CLIENT_SECRET"
)

// Config is the root configuration for the sync engine host.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Provider ProviderConfig `toml:"provider"`
	Sync     SyncConfig     `toml:"sync"`
}

// DatabaseConfig configures the relational mirror store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ProviderConfig configures the remote tree provider and its OAuth endpoints.
type ProviderConfig struct {
	BaseURL      string   `toml:"base_url"`
	TokenURL     string   `toml:"token_url"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`
	// SecretKeyEnv names the environment variable holding the 64-char
	// hex-encoded vault sealing key. The key itself never lives in the file.
	SecretKeyEnv string `toml:"secret_key_env"`
}

// SyncConfig configures traversal budgets and the background loop.
type SyncConfig struct {
	FolderBudget int    `toml:"folder_budget"`
	PollInterval string `toml:"poll_interval"`
}

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: defaultDatabasePath},
		Provider: ProviderConfig{
			BaseURL:      defaultProviderBaseURL,
			TokenURL:     defaultTokenURL,
			Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
			SecretKeyEnv: defaultSecretEnv,
		},
		Sync: SyncConfig{
			FolderBudget: defaultFolderBudget,
			PollInterval: defaultPollInterval,
		},
	}
}

// Load reads and parses a TOML config file, applies environment overrides,
// validates, and returns the resulting Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the effective config file path: an explicit path (the
// --config flag) wins, then the DRIVESYNC_CONFIG environment variable.
// Empty means no config file; callers pair this with LoadOrDefault.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	return os.Getenv(EnvConfig)
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults plus environment overrides. Supports the
// zero-config first-run experience.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)

		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// applyEnvOverrides applies DRIVESYNC_* environment variables on top of the
// file layer. Environment wins over file, matching operator expectations for
// containerized deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv(EnvClientID); v != "" {
		cfg.Provider.ClientID = v
	}

	if v := os.Getenv(EnvClientSecret); v != "" {
		cfg.Provider.ClientSecret = v
	}
}

// checkUnknownKeys rejects config keys that did not decode into any field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	return fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
}

// Validate checks a Config for internally inconsistent or out-of-range values.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}

	if cfg.Provider.BaseURL == "" {
		return errors.New("provider.base_url must not be empty")
	}

	if cfg.Provider.TokenURL == "" {
		return errors.New("provider.token_url must not be empty")
	}

	if cfg.Sync.FolderBudget < 1 {
		return fmt.Errorf("sync.folder_budget must be >= 1, got %d", cfg.Sync.FolderBudget)
	}

	if _, err := time.ParseDuration(cfg.Sync.PollInterval); err != nil {
		return fmt.Errorf("sync.poll_interval is not a valid duration: %w", err)
	}

	return nil
}

// PollIntervalDuration returns the parsed background poll interval.
// Validate guarantees the string parses, so the error is ignored here.
func (c *SyncConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// SecretKey reads and decodes the vault sealing key from the environment
// variable named by SecretKeyEnv. Returns an error if the variable is unset
// or does not decode to 32 bytes; the caller decides whether that is fatal.
func (p *ProviderConfig) SecretKey() ([]byte, error) {
	raw := os.Getenv(p.SecretKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("config: %s is not set", p.SecretKeyEnv)
	}

	key, err := decodeHexKey(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", p.SecretKeyEnv, err)
	}

	return key, nil
}
