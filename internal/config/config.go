// Package config loads chatlens configuration by layering
// defaults, the user config file and environment variables.
// CLI flags are applied on top by the command layer.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Host string `json:"host" env:"CHATLENS_HOST"`
	Port int    `json:"port" env:"CHATLENS_PORT"`

	// StorePath points at the decrypted chat database.
	StorePath string `json:"store_path" env:"CHATLENS_STORE"`

	// Timezone is the IANA zone used for calendar bucketing in
	// reports. Empty means the system zone.
	Timezone string `json:"timezone" env:"CHATLENS_TZ"`

	// BatchSize is the cursor batch size for full scans; 0 uses
	// the store default.
	BatchSize int `json:"batch_size" env:"CHATLENS_BATCH_SIZE"`

	// ScanRangeLo/Hi bound the share of overall report progress
	// assigned to the message-scan phase.
	ScanRangeLo int `json:"scan_range_lo" env:"CHATLENS_SCAN_RANGE_LO"`
	ScanRangeHi int `json:"scan_range_hi" env:"CHATLENS_SCAN_RANGE_HI"`

	WriteTimeout  time.Duration `json:"-" env:"CHATLENS_WRITE_TIMEOUT"`
	WatchDebounce time.Duration `json:"-" env:"CHATLENS_WATCH_DEBOUNCE"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("determining home directory: %w", err)
	}
	return Config{
		Host:          "127.0.0.1",
		Port:          8084,
		StorePath:     filepath.Join(home, ".chatlens", "decrypted.db"),
		ScanRangeLo:   30,
		ScanRangeHi:   80,
		WriteTimeout:  30 * time.Second,
		WatchDebounce: 2 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env.
func Load() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// configFilePath returns ~/.chatlens/config.json.
func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatlens", "config.json"), nil
}

func (c *Config) loadFile() error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks the final layered configuration. The command
// layer calls it again after applying flag overrides.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ScanRangeLo < 0 || c.ScanRangeHi > 100 ||
		c.ScanRangeHi < c.ScanRangeLo {
		return fmt.Errorf("invalid scan range %d-%d",
			c.ScanRangeLo, c.ScanRangeHi)
	}
	return nil
}
