// Package config handles global bql configuration and the per-entity field
// specification the compiler checks queries against.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidanlsb/bql/internal/logging"
)

// ErrInvalid is wrapped by every configuration or field-spec error.
var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	StoreYAML   = "yaml"
	StoreSQLite = "sqlite"
)

// Config represents the global bql configuration.
type Config struct {
	// DataDir holds the library, its lock and the audit log.
	// Defaults to $XDG_DATA_HOME/bql.
	DataDir string `toml:"data_dir"`

	// Store selects the library backend: yaml (default) or sqlite.
	Store string `toml:"store"`

	// Fields is the field-spec YAML file. Relative paths are resolved
	// against the directory of the config file.
	Fields string `toml:"fields"`

	// DefaultEntity is used when a command does not name an entity.
	DefaultEntity string `toml:"default_entity"`

	// MaxDepth bounds query nesting (default 64).
	MaxDepth int `toml:"max_depth"`

	// StrictReferences refuses renames and deletes of referenced queries.
	StrictReferences bool `toml:"strict_references"`

	// Audit enables <data_dir>/audit.log.
	Audit bool `toml:"audit"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// UI controls optional CLI theming preferences.
	UI UIConfig `toml:"ui"`

	// dir is the directory of the file the config was loaded from.
	dir string
}

// UIConfig represents optional CLI theming preferences.
type UIConfig struct {
	// Accent is an optional accent color for CLI output and markdown rendering.
	// Supported values are ANSI color codes ("0" to "255") or hex colors ("#RRGGBB").
	Accent string `toml:"accent"`

	// CodeTheme sets the Glamour/Chroma theme used for rendered markdown code blocks.
	CodeTheme string `toml:"code_theme"`
}

// Load loads the configuration from the default location.
// Returns a default config if the file doesn't exist.
func Load() (*Config, error) {
	return LoadOrDefault(DefaultPath())
}

// LoadOrDefault loads path, returning a default config if it doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{dir: filepath.Dir(path)}, nil
	}
	return LoadFrom(path)
}

// LoadFrom loads and validates the configuration at path.
func LoadFrom(path string) (*Config, error) {
	var config Config
	meta, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config %s: %v", ErrInvalid, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	config.dir = filepath.Dir(path)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &config, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Store {
	case "", StoreYAML, StoreSQLite:
	default:
		return fmt.Errorf("%w: store must be %q or %q, got %q", ErrInvalid, StoreYAML, StoreSQLite, c.Store)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// GetDataDir returns the data directory with the default applied.
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return expandHome(c.DataDir)
	}
	return DefaultDataDir()
}

// GetStore returns the store backend with the default applied.
func (c *Config) GetStore() string {
	if c.Store == "" {
		return StoreYAML
	}
	return c.Store
}

// LibraryPath returns the file backing the configured store.
func (c *Config) LibraryPath() string {
	if c.GetStore() == StoreSQLite {
		return filepath.Join(c.GetDataDir(), "library.db")
	}
	return filepath.Join(c.GetDataDir(), "queries.yaml")
}

// LockPath returns the lock file guarding library writes.
func (c *Config) LockPath() string {
	return filepath.Join(c.GetDataDir(), "library.lock")
}

// FieldsPath returns the field-spec file, defaulting to fields.yaml beside
// the config file.
func (c *Config) FieldsPath() string {
	p := c.Fields
	if p == "" {
		p = "fields.yaml"
	}
	p = expandHome(p)
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ResolveConfigPath resolves the effective config path from an optional override.
func ResolveConfigPath(explicitConfigPath string) string {
	if strings.TrimSpace(explicitConfigPath) != "" {
		return explicitConfigPath
	}
	return DefaultPath()
}

// DefaultPath returns the default config file path:
// $XDG_CONFIG_HOME/bql/config.toml, then ~/.config/bql/config.toml, then
// the OS-specific config directory.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bql", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "bql", "config.toml")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "bql", "config.toml")
	}
	return filepath.Join(".", "config.toml")
}

// DefaultDataDir returns $XDG_DATA_HOME/bql, falling back to
// ~/.local/share/bql.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "bql")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "bql")
	}
	return filepath.Join(".", ".bql")
}

const defaultConfig = `# bql configuration

# Where the named-query library, its lock and the audit log live.
# data_dir = "~/.local/share/bql"

# Library backend: yaml or sqlite.
# store = "yaml"

# Field specification, relative to this file.
# fields = "fields.yaml"
# default_entity = "person"

# max_depth = 64
# strict_references = false
# audit = false

# log_level = "info"   # debug, info, warn, error
# log_format = "text"  # text or json

# [ui]
# accent = "39"
# code_theme = "monokai"
`

// CreateDefault writes a commented default config to path unless a file is
// already there. It reports whether a file was written.
func CreateDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
