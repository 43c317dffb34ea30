// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

// Package config loads host configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/duskhall/duskhall/internal/xdg"
)

// Config holds the host runtime configuration.
type Config struct {
	// PluginDirs lists directories scanned for plugin manifests.
	PluginDirs []string `koanf:"plugin_dirs"`

	// Profile selects which host profile plugins are loaded for.
	Profile string `koanf:"profile"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr is the metrics/health listen address. Empty disables
	// the observability server.
	MetricsAddr string `koanf:"metrics_addr"`

	// Plugins maps plugin IDs to their configuration tables, passed to
	// each plugin at initialization.
	Plugins map[string]map[string]any `koanf:"plugins"`
}

// Defaults applied before the config file and flags are merged.
const (
	DefaultProfile     = "terminal"
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.PluginDirs) == 0 {
		return fmt.Errorf("at least one plugin directory is required")
	}
	if c.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// PluginConfig returns the configuration table for a plugin ID, or an
// empty table when none is configured.
func (c *Config) PluginConfig(id string) map[string]any {
	if cfg, ok := c.Plugins[id]; ok {
		return cfg
	}
	return map[string]any{}
}

// Load merges defaults, the optional YAML config file at path, and any
// set flags, in that order of precedence (flags win). An empty path
// skips the file layer; a non-empty path that does not exist is an
// error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"plugin_dirs":  []string{xdg.PluginsDir()},
		"profile":      DefaultProfile,
		"log_format":   DefaultLogFormat,
		"log_level":    DefaultLogLevel,
		"metrics_addr": DefaultMetricsAddr,
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if flags != nil {
		// Flag names use dashes, config keys use underscores.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
