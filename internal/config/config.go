package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration (~/.emberd/config.toml).
type Config struct {
	ListenAddr string `toml:"listen_addr"`

	RedisURL string `toml:"redis_url"`

	BlobEndpoint  string `toml:"blob_endpoint"`
	BlobAccessKey string `toml:"blob_access_key"`
	BlobSecretKey string `toml:"blob_secret_key"`
	BlobBucket    string `toml:"blob_bucket"`
	BlobUseSSL    bool   `toml:"blob_use_ssl"`

	JWTSecret    string   `toml:"jwt_secret"`
	TokenTTL     duration `toml:"token_ttl"`
	ReconcileGap duration `toml:"reconcile_interval"`
}

// duration wraps time.Duration for TOML round-tripping as a string.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		ListenAddr:   ":8686",
		RedisURL:     "redis://localhost:6379/0",
		BlobEndpoint: "localhost:9000",
		BlobBucket:   "emberd",
		JWTSecret:    "emberd-dev-secret",
		TokenTTL:     duration{24 * time.Hour},
		ReconcileGap: duration{5 * time.Minute},
	}
}

// TokenLifetime returns the configured access token lifetime.
func (c *Config) TokenLifetime() time.Duration { return c.TokenTTL.Duration }

// ReconcileInterval returns the configured reconciler period.
func (c *Config) ReconcileInterval() time.Duration { return c.ReconcileGap.Duration }

// Load reads config from the given path, decoding over defaults so absent
// keys keep their default values. It errors if the file cannot be read;
// LoadOrDefault handles the missing-file case.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
