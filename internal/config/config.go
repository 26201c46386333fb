package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Simulate    SimulateConfig    `toml:"simulate"`
	Archive     ArchiveConfig     `toml:"archive"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Path        string            `toml:"-"`
}

type CoordinatorConfig struct {
	MailboxCapacity   int `toml:"mailbox_capacity"`
	HistoryQueryLimit int `toml:"history_query_limit"`
}

type SimulateConfig struct {
	MinStepDelayMS int `toml:"min_step_delay_ms"`
	MaxStepDelayMS int `toml:"max_step_delay_ms"`
}

type ArchiveConfig struct {
	Path string `toml:"path"`
}

type MonitorConfig struct {
	RefreshMS int `toml:"refresh_ms"`
}

func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{MailboxCapacity: 64, HistoryQueryLimit: 10},
		Simulate:    SimulateConfig{MinStepDelayMS: 500, MaxStepDelayMS: 1500},
		Monitor:     MonitorConfig{RefreshMS: 500},
	}
}

// Load reads TOML over the defaults, so absent keys keep their default
// values. A missing file is only an error when the path was explicit.
func Load(path string) (Config, error) {
	resolved := path
	fromDefault := resolved == ""
	if fromDefault {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if fromDefault && os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agent_relay.toml"
	}
	return filepath.Join(home, ".agent_relay.toml")
}
