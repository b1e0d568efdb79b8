// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads.
const EnvVar = "WARDEN_CONFIG"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// MinReservedPrefixPages is the smallest reserved prefix that still
// holds every framework cell.
const MinReservedPrefixPages = 9

// Config is the master configuration for a Warden host.
type Config struct {
	// Root is the base directory for Warden data. Other paths may
	// refer to it as ${WARDEN_ROOT}.
	Root string `yaml:"root"`

	// Store selects and configures the paged store backend.
	Store StoreConfig `yaml:"store"`

	// Layout configures the memory layout boundaries.
	Layout LayoutConfig `yaml:"layout"`

	// Lifecycle configures upgrade handling.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`
}

// StoreConfig selects the paged store backend.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite, pebble.
	// Default: file
	Backend string `yaml:"backend"`

	// Path is the backing file (file, sqlite) or directory (pebble).
	// Ignored for the memory backend.
	Path string `yaml:"path"`

	// PoolSize is the number of SQLite connections. Ignored by the
	// other backends.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// LayoutConfig configures the memory layout.
type LayoutConfig struct {
	// ReservedPrefixPages is the number of pages held back for
	// framework state at the start of the store.
	// Default: 64
	ReservedPrefixPages uint64 `yaml:"reserved_prefix_pages"`

	// UserPageEnd is the exclusive end of the user page range. It is
	// written into the store at first init and must not change.
	UserPageEnd uint64 `yaml:"user_page_end"`
}

// LifecycleConfig configures init and upgrade handling.
type LifecycleConfig struct {
	// LayoutVersion is the stable layout version the running code
	// was built against.
	// Default: 1
	LayoutVersion uint32 `yaml:"layout_version"`

	// CheckpointDir receives pre-migration snapshots. Empty disables
	// checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// CheckpointCompression is one of none, lz4, zstd.
	// Default: zstd
	CheckpointCompression string `yaml:"checkpoint_compression"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are the
// base the config file is merged into; they are not a substitute for
// the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "warden")

	return &Config{
		Root: defaultRoot,
		Store: StoreConfig{
			Backend:  BackendFile,
			Path:     filepath.Join(defaultRoot, "store.pages"),
			PoolSize: 4,
		},
		Layout: LayoutConfig{
			ReservedPrefixPages: 64,
			UserPageEnd:         128,
		},
		Lifecycle: LifecycleConfig{
			LayoutVersion:         1,
			CheckpointCompression: "zstd",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the WARDEN_CONFIG environment variable.
// If the variable is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your warden.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path and validates
// the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WARDEN_ROOT": c.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["WARDEN_ROOT"] = c.Root

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Lifecycle.CheckpointDir = expandVars(c.Lifecycle.CheckpointDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	backends := []string{BackendMemory, BackendFile, BackendSQLite, BackendPebble}
	if !slices.Contains(backends, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend must be one of: %v", backends))
	}
	if c.Store.Backend != BackendMemory && c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
	}
	if c.Store.Backend == BackendSQLite && c.Store.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("store.pool_size must be at least 1"))
	}

	if c.Layout.ReservedPrefixPages < MinReservedPrefixPages {
		errs = append(errs, fmt.Errorf("layout.reserved_prefix_pages must be at least %d", MinReservedPrefixPages))
	}
	if c.Layout.UserPageEnd <= c.Layout.ReservedPrefixPages {
		errs = append(errs, fmt.Errorf("layout.user_page_end (%d) must be greater than layout.reserved_prefix_pages (%d)",
			c.Layout.UserPageEnd, c.Layout.ReservedPrefixPages))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Lifecycle.CheckpointCompression) {
		errs = append(errs, fmt.Errorf("lifecycle.checkpoint_compression must be one of: %v", compressions))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel converts the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", l.Level)
	}
}

// EnsurePaths creates the directories the configured store and
// checkpoint locations live in.
func (c *Config) EnsurePaths() error {
	var paths []string
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
		paths = append(paths, filepath.Dir(c.Store.Path))
	case BackendPebble:
		paths = append(paths, c.Store.Path)
	}
	if c.Lifecycle.CheckpointDir != "" {
		paths = append(paths, c.Lifecycle.CheckpointDir)
	}

	for _, path := range paths {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
