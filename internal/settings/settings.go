// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package settings loads ModHaven configuration from an optional YAML
// file layered under command-line flags.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/modhaven/modhaven/internal/xdg"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	ModsDir          string        `koanf:"mods-dir"`
	ExtensionsDir    string        `koanf:"extensions-dir"`
	DataDir          string        `koanf:"data-dir"`
	DatabasePath     string        `koanf:"database-path"`
	LogFormat        string        `koanf:"log-format"`
	LogLevel         string        `koanf:"log-level"`
	MetricsAddr      string        `koanf:"metrics-addr"`
	LifecycleTimeout time.Duration `koanf:"lifecycle-timeout"`
	WatchMods        bool          `koanf:"watch-mods"`
}

// Default values applied when neither the config file nor a flag sets
// the key.
const (
	DefaultLogFormat   = "text"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9200"
)

// RegisterFlags declares the settings flags on the given flag set.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("mods-dir", "", "mod package directory (default: XDG_DATA_HOME/modhaven/mods)")
	f.String("extensions-dir", "", "extension package directory (default: XDG_DATA_HOME/modhaven/extensions)")
	f.String("data-dir", "", "data directory (default: XDG_DATA_HOME/modhaven)")
	f.String("database-path", "", "catalog database path (default: <data-dir>/modhaven.db)")
	f.String("log-format", DefaultLogFormat, "log format (json or text)")
	f.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	f.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	f.Duration("lifecycle-timeout", 30*time.Second, "per-extension initialize/shutdown timeout")
	f.Bool("watch-mods", true, "watch the mods directory and refresh the catalog on changes")
}

// Load resolves settings from the config file (when present) layered
// under the flag set. Flags that were explicitly set win over the file.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFile, err)
		}
	} else if path := defaultConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func defaultConfigFile() string {
	path := filepath.Join(xdg.ConfigDir(), "modhaven.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (s *Settings) applyDefaults() {
	if s.DataDir == "" {
		s.DataDir = xdg.DataDir()
	}
	if s.ModsDir == "" {
		s.ModsDir = filepath.Join(s.DataDir, "mods")
	}
	if s.ExtensionsDir == "" {
		s.ExtensionsDir = filepath.Join(s.DataDir, "extensions")
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataDir, "modhaven.db")
	}
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", s.LogFormat)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", s.LogLevel)
	}
	if s.LifecycleTimeout <= 0 {
		return fmt.Errorf("lifecycle-timeout must be positive, got %s", s.LifecycleTimeout)
	}
	return nil
}
