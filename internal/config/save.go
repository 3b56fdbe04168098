package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aidanlsb/bql/internal/atomicfile"
)

type persistedConfig struct {
	DataDir          *string              `toml:"data_dir,omitempty"`
	Store            *string              `toml:"store,omitempty"`
	Fields           *string              `toml:"fields,omitempty"`
	DefaultEntity    *string              `toml:"default_entity,omitempty"`
	MaxDepth         *int                 `toml:"max_depth,omitempty"`
	StrictReferences *bool                `toml:"strict_references,omitempty"`
	Audit            *bool                `toml:"audit,omitempty"`
	LogLevel         *string              `toml:"log_level,omitempty"`
	LogFormat        *string              `toml:"log_format,omitempty"`
	UI               *persistedUISettings `toml:"ui,omitempty"`
}

type persistedUISettings struct {
	Accent    *string `toml:"accent,omitempty"`
	CodeTheme *string `toml:"code_theme,omitempty"`
}

func nonEmptyPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trueOrNil(b bool) *bool {
	if !b {
		return nil
	}
	return &b
}

// SaveTo writes the config to path atomically. Unset values are omitted.
func SaveTo(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := persistedConfig{
		DataDir:          nonEmptyPtr(cfg.DataDir),
		Store:            nonEmptyPtr(cfg.Store),
		Fields:           nonEmptyPtr(cfg.Fields),
		DefaultEntity:    nonEmptyPtr(cfg.DefaultEntity),
		StrictReferences: trueOrNil(cfg.StrictReferences),
		Audit:            trueOrNil(cfg.Audit),
		LogLevel:         nonEmptyPtr(cfg.LogLevel),
		LogFormat:        nonEmptyPtr(cfg.LogFormat),
	}
	if cfg.MaxDepth > 0 {
		depth := cfg.MaxDepth
		out.MaxDepth = &depth
	}

	accent := nonEmptyPtr(cfg.UI.Accent)
	codeTheme := nonEmptyPtr(cfg.UI.CodeTheme)
	if accent != nil || codeTheme != nil {
		out.UI = &persistedUISettings{
			Accent:    accent,
			CodeTheme: codeTheme,
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomicfile.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	return nil
}
