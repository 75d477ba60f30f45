package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/waabox/agentdeck/internal/domain"
)

// ServerConfig holds the location of the task runner and the OAuth client it uses.
type ServerConfig struct {
	BaseURL  string `toml:"base_url"`
	ClientID string `toml:"client_id"`
}

// AuthConfig holds the persisted bearer token and the profile it was verified against.
type AuthConfig struct {
	Token string          `toml:"token"`
	User  *domain.Profile `toml:"user,omitempty"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds all agentdeck configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Log    LogConfig    `toml:"log"`
}

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultClientID  = "client1"
	defaultLogLevel  = "warn"
	defaultLogFormat = "text"
)

// BaseURLOrDefault returns Server.BaseURL if set, otherwise defaultBaseURL.
func (c Config) BaseURLOrDefault() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	return defaultBaseURL
}

// ClientIDOrDefault returns Server.ClientID if set, otherwise defaultClientID.
func (c Config) ClientIDOrDefault() string {
	if c.Server.ClientID != "" {
		return c.Server.ClientID
	}
	return defaultClientID
}

// LogLevelOrDefault returns Log.Level if set, otherwise defaultLogLevel.
func (c Config) LogLevelOrDefault() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	return defaultLogLevel
}

// LogFormatOrDefault returns Log.Format if set, otherwise defaultLogFormat.
func (c Config) LogFormatOrDefault() string {
	if c.Log.Format != "" {
		return c.Log.Format
	}
	return defaultLogFormat
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - AGENTDECK_BASE_URL   overrides server.base_url
//   - AGENTDECK_CLIENT_ID  overrides server.client_id
//   - AGENTDECK_TOKEN      overrides auth.token
//   - AGENTDECK_LOG_LEVEL  overrides log.level
//   - AGENTDECK_LOG_FORMAT overrides log.format
func LoadFrom(path string) (Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are skipped; variables already set are kept.
// With no arguments it looks for ".env" in the working directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// DefaultConfigPath returns the default path for the agentdeck config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentdeck", "config.toml")
}

// decodeFile reads the file without applying environment overrides, so that
// values coming from the environment are never written back to disk.
func decodeFile(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTDECK_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("AGENTDECK_CLIENT_ID"); v != "" {
		cfg.Server.ClientID = v
	}
	if v := os.Getenv("AGENTDECK_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("AGENTDECK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AGENTDECK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
