package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadFrom(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `data_dir = "/srv/bql"
store = "sqlite"
fields = "schema/fields.yaml"
default_entity = "person"
max_depth = 32
strict_references = true
audit = true
log_level = "debug"
log_format = "json"

[ui]
accent = "39"
code_theme = "dracula"
`
	writeFile(t, configPath, content)

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GetDataDir() != "/srv/bql" {
		t.Errorf("expected data_dir '/srv/bql', got %q", cfg.GetDataDir())
	}
	if cfg.GetStore() != StoreSQLite {
		t.Errorf("expected store sqlite, got %q", cfg.GetStore())
	}
	if cfg.LibraryPath() != filepath.Join("/srv/bql", "library.db") {
		t.Errorf("unexpected library path %q", cfg.LibraryPath())
	}
	if cfg.LockPath() != filepath.Join("/srv/bql", "library.lock") {
		t.Errorf("unexpected lock path %q", cfg.LockPath())
	}
	if cfg.FieldsPath() != filepath.Join(tmpDir, "schema", "fields.yaml") {
		t.Errorf("fields path should resolve beside the config, got %q", cfg.FieldsPath())
	}
	if cfg.DefaultEntity != "person" || cfg.MaxDepth != 32 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.StrictReferences || !cfg.Audit {
		t.Error("expected strict_references and audit to be set")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("unexpected logging config %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.UI.Accent != "39" || cfg.UI.CodeTheme != "dracula" {
		t.Errorf("unexpected ui config %+v", cfg.UI)
	}
}

func TestLoadFromInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `this is not valid toml {{{{`},
		{"unknown store", `store = "postgres"`},
		{"negative depth", `max_depth = -1`},
		{"bad level", `log_level = "loud"`},
		{"bad format", `log_format = "xml"`},
		{"unknown key", `notes_dir = "/notes"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			writeFile(t, configPath, tt.content)

			_, err := LoadFrom(configPath)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_CONFIG_HOME", "/conf")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetStore() != StoreYAML {
		t.Errorf("default store = %q", cfg.GetStore())
	}
	if cfg.GetDataDir() != filepath.Join("/data", "bql") {
		t.Errorf("default data dir = %q", cfg.GetDataDir())
	}
	if cfg.LibraryPath() != filepath.Join("/data", "bql", "queries.yaml") {
		t.Errorf("default library path = %q", cfg.LibraryPath())
	}
	if filepath.Base(cfg.FieldsPath()) != "fields.yaml" {
		t.Errorf("default fields path = %q", cfg.FieldsPath())
	}
	if DefaultPath() != filepath.Join("/conf", "bql", "config.toml") {
		t.Errorf("DefaultPath = %q", DefaultPath())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/conf")
	if got := ResolveConfigPath("/explicit.toml"); got != "/explicit.toml" {
		t.Errorf("explicit path ignored: %q", got)
	}
	if got := ResolveConfigPath("  "); got != DefaultPath() {
		t.Errorf("blank override should use the default, got %q", got)
	}
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bql", "config.toml")

	created, err := CreateDefault(path)
	if err != nil || !created {
		t.Fatalf("CreateDefault = %v, %v", created, err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if cfg.GetStore() != StoreYAML {
		t.Errorf("unexpected store %q", cfg.GetStore())
	}

	created, err = CreateDefault(path)
	if err != nil || created {
		t.Errorf("second CreateDefault = %v, %v; want false, nil", created, err)
	}
}
