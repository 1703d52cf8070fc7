// Package config loads and saves Vortex's TOML configuration file, the
// block-size and come-back/write-ahead settings every cmd subcommand reads.
// No subcommand has flags that override these settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config represents $VORTEX_HOME/config.toml.
type Config struct {
	BlockSizePower int    `toml:"block_size_power,omitempty" json:"block_size_power"`
	Pool           Pool   `toml:"pool,omitempty" json:"pool"`
	LogLevel       string `toml:"log_level,omitempty" json:"log_level"`
}

// Pool holds the come-back/write-ahead parameters every VortexC run uses.
type Pool struct {
	M int `toml:"consumer_comeback,omitempty" json:"consumer_comeback"`
	L int `toml:"producer_comeback,omitempty" json:"producer_comeback"`
	N int `toml:"write_ahead,omitempty" json:"write_ahead"`
}

// Defaults returns the configuration Vortex falls back to when no config
// file is present.
func Defaults() *Config {
	return &Config{
		BlockSizePower: 21, // 2 MiB blocks
		Pool:           Pool{M: 4, L: 2, N: 4},
		LogLevel:       "info",
	}
}

// configDirOverride is set by the --config-dir flag or VORTEX_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / VORTEX_HOME
// value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// VortexHome returns the config directory path. Precedence: --config-dir
// flag / SetConfigDir > VORTEX_HOME env > ~/.vortex.
func VortexHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("VORTEX_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vortex")
	}
	return filepath.Join(home, ".vortex")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(VortexHome(), "config.toml")
}

// EnsureDir creates the Vortex home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(VortexHome(), 0o755)
}

// Load reads config.toml, layering its values over Defaults(). If the file
// does not exist, Defaults() alone is returned.
func Load() (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("config: creating home dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}
