package app

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"opencdm/internal/domain"
	"opencdm/internal/logging"
	protocol "opencdm/internal/protocol/clearkey"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Log     logging.Config `yaml:"log"`
	Engine  EngineConfig   `yaml:"engine"`
	Session SessionConfig  `yaml:"session"`
	License LicenseConfig  `yaml:"license"`
	Server  ServerConfig   `yaml:"server"`
}

// EngineConfig configures the ClearKey engine.
type EngineConfig struct {
	KeySystem  string `yaml:"key_system"`
	LicenseURL string `yaml:"license_url"` // reported with license requests
	// StoreDir holds sealed persistent licenses; empty keeps them in memory.
	StoreDir        string `yaml:"store_dir"`
	StorePassphrase string `yaml:"store_passphrase"`
}

// SessionConfig bounds waits in the session core.
type SessionConfig struct {
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	KeyWait         time.Duration `yaml:"key_wait"`
}

// LicenseConfig configures the license-server client.
type LicenseConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxRounds int           `yaml:"max_rounds"`
}

// ServerConfig configures cmd/licenseserver. Keys maps hex key ids to hex
// keys.
type ServerConfig struct {
	Address string            `yaml:"address"`
	Keys    map[string]string `yaml:"keys"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig loads configuration from a yaml file, expanding ${VAR}
// references and applying defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes yaml configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (Config, error) {
	data = []byte(expandEnvVars(string(data)))
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// DefaultConfig is the configuration used without a config file.
func DefaultConfig() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.KeySystem == "" {
		cfg.Engine.KeySystem = string(protocol.KeySystem)
	}
	if cfg.Session.ExchangeTimeout == 0 {
		cfg.Session.ExchangeTimeout = 5 * time.Second
	}
	if cfg.Session.KeyWait == 0 {
		cfg.Session.KeyWait = 2 * time.Second
	}
	if cfg.License.ServerURL == "" {
		cfg.License.ServerURL = "http://127.0.0.1:8080"
	}
	if cfg.License.Timeout == 0 {
		cfg.License.Timeout = 10 * time.Second
	}
	if cfg.License.MaxRounds == 0 {
		cfg.License.MaxRounds = 4
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.KeySystem != string(protocol.KeySystem) {
		errs = append(errs, fmt.Errorf("engine.key_system: %q is not supported", c.Engine.KeySystem))
	}
	if c.Engine.StoreDir != "" && c.Engine.StorePassphrase == "" {
		errs = append(errs, errors.New("engine.store_passphrase is required with engine.store_dir"))
	}
	if c.Session.ExchangeTimeout < 0 {
		errs = append(errs, errors.New("session.exchange_timeout must not be negative"))
	}
	if c.License.Timeout < 0 {
		errs = append(errs, errors.New("license.timeout must not be negative"))
	}
	if c.License.MaxRounds < 0 {
		errs = append(errs, errors.New("license.max_rounds must not be negative"))
	}
	if _, err := c.Server.ContentKeys(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// ContentKeys decodes the server key table.
func (s ServerConfig) ContentKeys() ([]domain.ContentKey, error) {
	keys := make([]domain.ContentKey, 0, len(s.Keys))
	var errs []error
	for kidHex, keyHex := range s.Keys {
		kid, err := hex.DecodeString(kidHex)
		if err != nil || len(kid) == 0 {
			errs = append(errs, fmt.Errorf("server.keys: bad key id %q", kidHex))
			continue
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != protocol.KeySize {
			errs = append(errs, fmt.Errorf("server.keys[%s]: want %d hex bytes", kidHex, protocol.KeySize))
			continue
		}
		keys = append(keys, domain.ContentKey{ID: kid, Key: key})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return keys, nil
}
