package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"chatsync/internal/config"
	"chatsync/internal/engine"
)

// Config is the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Sync   SyncConfig   `toml:"sync"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token string `toml:"token"`
	// Secret lets "token" mint development tokens locally.
	Secret string `toml:"secret,omitempty"`
}

// SyncConfig overrides engine defaults. Durations use Go syntax ("10s").
type SyncConfig struct {
	HistoryLimit  int    `toml:"history_limit,omitempty"`
	ChatListLimit int    `toml:"chat_list_limit,omitempty"`
	Heartbeat     string `toml:"heartbeat,omitempty"`
	IdleTimeout   string `toml:"idle_timeout,omitempty"`
}

const defaultServerURL = "http://localhost:8000"

func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatsync", "config.toml"), nil
}

// loadConfig reads the config file. A missing file yields defaults.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.Server.URL = flagServer
	}
	if flagToken != "" {
		cfg.Auth.Token = flagToken
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaultServerURL
	}
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field by its dotted TOML key, e.g. "server.url".
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must look like section.field (e.g. server.url)")
	}

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return n, nil
	}
	duration := func() (string, error) {
		if _, err := time.ParseDuration(value); err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		return value, nil
	}

	var err error
	switch section + "." + field {
	case "server.url":
		cfg.Server.URL = value
	case "auth.token":
		cfg.Auth.Token = value
	case "auth.secret":
		cfg.Auth.Secret = value
	case "sync.history_limit":
		cfg.Sync.HistoryLimit, err = atoi()
	case "sync.chat_list_limit":
		cfg.Sync.ChatListLimit, err = atoi()
	case "sync.heartbeat":
		cfg.Sync.Heartbeat, err = duration()
	case "sync.idle_timeout":
		cfg.Sync.IdleTimeout, err = duration()
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return err
}

// engineConfig starts from the environment's engine settings and applies
// the [sync] overrides.
func (c *Config) engineConfig() (engine.Config, error) {
	fromEnv, err := config.LoadEngine()
	if err != nil {
		return engine.Config{}, err
	}
	out := engine.ConfigFrom(fromEnv)
	if c.Sync.HistoryLimit > 0 {
		out.HistoryLimit = c.Sync.HistoryLimit
	}
	if c.Sync.ChatListLimit > 0 {
		out.ChatListLimit = c.Sync.ChatListLimit
	}
	if c.Sync.Heartbeat != "" {
		d, err := time.ParseDuration(c.Sync.Heartbeat)
		if err != nil {
			return out, fmt.Errorf("sync.heartbeat: %w", err)
		}
		out.Presence.Heartbeat = d
	}
	if c.Sync.IdleTimeout != "" {
		d, err := time.ParseDuration(c.Sync.IdleTimeout)
		if err != nil {
			return out, fmt.Errorf("sync.idle_timeout: %w", err)
		}
		out.Presence.IdleTimeout = d
	}
	return out, nil
}
