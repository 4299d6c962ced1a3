// Package config loads the runtime configuration file. The bot
// behavior itself lives in the spec document; this file covers the
// deployment side: credentials, storage backend, logging, metrics.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the bot runtime.
type Config struct {
	Discord Discord `yaml:"discord"`
	Spec    Spec    `yaml:"spec"`
	Storage Storage `yaml:"storage"`
	Engine  Engine  `yaml:"engine"`
	Voice   Voice   `yaml:"voice"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
}

type Discord struct {
	Token        string        `yaml:"token"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type Spec struct {
	Path string `yaml:"path"`
	// Watch enables hot reload when the spec file changes on disk.
	Watch bool `yaml:"watch"`
	// DebounceDelay coalesces rapid editor writes into one reload.
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

type Storage struct {
	// Backend selects the adapter: "memory", "sqlite", or "postgres".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

type Engine struct {
	MaxDepth      int `yaml:"max_depth"`
	MaxIterations int `yaml:"max_iterations"`
}

type Voice struct {
	DefaultVolume int           `yaml:"default_volume"`
	MaxQueue      int           `yaml:"max_queue"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
}

type Logging struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. Environment variable
// references in the file are expanded before parsing, so the token can
// be written as ${DISCORD_TOKEN}.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no
// credentials. Useful for validate-only runs that never connect.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Discord.ReadyTimeout == 0 {
		cfg.Discord.ReadyTimeout = 30 * time.Second
	}
	if cfg.Spec.Path == "" {
		cfg.Spec.Path = "bot.yaml"
	}
	if cfg.Spec.DebounceDelay == 0 {
		cfg.Spec.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "specbot.db"
	}
	if cfg.Engine.MaxDepth == 0 {
		cfg.Engine.MaxDepth = 10
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10000
	}
	if cfg.Voice.DefaultVolume == 0 {
		cfg.Voice.DefaultVolume = 100
	}
	if cfg.Voice.MaxQueue == 0 {
		cfg.Voice.MaxQueue = 1000
	}
	if cfg.Voice.ReadyTimeout == 0 {
		cfg.Voice.ReadyTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate checks field combinations that Load cannot default away.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
