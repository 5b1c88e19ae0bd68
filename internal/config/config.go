// Package config loads SaveContext settings from config.json in the data
// directory, then applies environment overrides. The file may contain
// comments and trailing commas.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

const configFile = "config.json"

// Environment variables that override the file
const (
	EnvDBPath      = "SAVECONTEXT_DB_PATH"
	EnvActor       = "SAVECONTEXT_ACTOR"
	EnvLogLevel    = "SAVECONTEXT_LOG_LEVEL"
	EnvDriver      = "SAVECONTEXT_DRIVER"
	EnvBusyTimeout = "SAVECONTEXT_BUSY_TIMEOUT"
)

// Config holds user settings
type Config struct {
	// DBDir is the directory holding savecontext.db; empty means the data dir
	DBDir         string `json:"db_dir,omitempty"`
	Driver        string `json:"driver,omitempty"`
	BusyTimeoutMs int    `json:"busy_timeout_ms,omitempty"`
	LockTimeoutMs int    `json:"lock_timeout_ms,omitempty"`
	Actor         string `json:"actor,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
}

// Path returns the config file path inside dataDir
func Path(dataDir string) string {
	return filepath.Join(dataDir, configFile)
}

// Load reads the config from dataDir and applies environment overrides.
// A missing file yields defaults. A .env file in the working directory is
// loaded first and never overrides variables already set.
func Load(dataDir string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := read(dataDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(dataDir string) (*Config, error) {
	data, err := os.ReadFile(Path(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", Path(dataDir), err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBDir = v
	}
	if v := os.Getenv(EnvActor); v != "" {
		c.Actor = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDriver); v != "" {
		c.Driver = v
	}
	if v := os.Getenv(EnvBusyTimeout); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s must be a non-negative number of milliseconds, got %q", EnvBusyTimeout, v)
		}
		c.BusyTimeoutMs = ms
	}
	return nil
}

// Save writes the config to dataDir. Comments in an existing file are lost.
func Save(dataDir string, cfg *Config) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dataDir), append(data, '\n'), 0644)
}

// Set updates one setting by its JSON name and saves the file. Environment
// overrides are not written back.
func Set(dataDir, key, value string) error {
	cfg, err := read(dataDir)
	if err != nil {
		return err
	}
	switch key {
	case "db_dir":
		cfg.DBDir = value
	case "driver":
		cfg.Driver = value
	case "actor":
		cfg.Actor = value
	case "log_level":
		if _, err := ParseLevel(value); err != nil {
			return err
		}
		cfg.LogLevel = value
	case "busy_timeout_ms", "lock_timeout_ms":
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
		if key == "busy_timeout_ms" {
			cfg.BusyTimeoutMs = ms
		} else {
			cfg.LockTimeoutMs = ms
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return Save(dataDir, cfg)
}

// ResolveDBDir returns the database directory, defaulting to dataDir
func (c *Config) ResolveDBDir(dataDir string) string {
	if c.DBDir == "" {
		return dataDir
	}
	return c.DBDir
}

// BusyTimeout is the SQLite busy wait; zero means the engine default
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// LockTimeout is the cross-process write lock wait; zero means the engine
// default
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// Level returns the configured slog level, Warn when unset or invalid
func (c *Config) Level() slog.Level {
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// ParseLevel parses debug, info, warn or error
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelWarn, fmt.Errorf("invalid log level %q", s)
}
