// Package testutil provides reusable test utilities for bql integration tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestEnv is a temporary bql setup: a config file, a field spec and a data
// directory, all under one temp directory.
type TestEnv struct {
	Path   string
	t      *testing.T
	fields string
	config string
	files  map[string]string
}

// NewTestEnv creates a new test environment builder.
// Call Build() to create the actual directory.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return &TestEnv{
		t:     t,
		files: make(map[string]string),
	}
}

// WithFields sets the fields.yaml content.
func (e *TestEnv) WithFields(yaml string) *TestEnv {
	e.fields = yaml
	return e
}

// WithConfig appends TOML settings to the generated config.toml.
func (e *TestEnv) WithConfig(toml string) *TestEnv {
	e.config += toml
	return e
}

// WithFile adds a file to the environment.
// The path is relative to the environment root.
func (e *TestEnv) WithFile(path, content string) *TestEnv {
	e.files[path] = content
	return e
}

// Build creates the directory and all configured files.
// Returns the TestEnv for method chaining.
func (e *TestEnv) Build() *TestEnv {
	e.t.Helper()

	e.Path = e.t.TempDir()

	fields := e.fields
	if fields == "" {
		fields = PersonFields()
	}
	e.writeFile("fields.yaml", fields)

	config := fmt.Sprintf("data_dir = %q\ndefault_entity = \"person\"\n%s", e.DataDir(), e.config)
	e.writeFile("config.toml", config)

	for path, content := range e.files {
		e.writeFile(path, content)
	}

	return e
}

// ConfigPath returns the path passed to --config.
func (e *TestEnv) ConfigPath() string {
	return filepath.Join(e.Path, "config.toml")
}

// DataDir returns the directory holding the library and audit log.
func (e *TestEnv) DataDir() string {
	return filepath.Join(e.Path, "data")
}

// ReadFile reads a file relative to the environment root.
func (e *TestEnv) ReadFile(relPath string) string {
	e.t.Helper()
	content, err := os.ReadFile(filepath.Join(e.Path, relPath))
	if err != nil {
		e.t.Fatalf("failed to read file %s: %v", relPath, err)
	}
	return string(content)
}

func (e *TestEnv) writeFile(relPath, content string) {
	e.t.Helper()
	fullPath := filepath.Join(e.Path, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		e.t.Fatalf("failed to create directory for %s: %v", relPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write file %s: %v", relPath, err)
	}
}

// PersonFields returns a field spec with a person entity covering every
// field type.
func PersonFields() string {
	return `entities:
  person:
    fields:
      lname: string
      name: string
      age: number
      dob: date
      active: boolean
      vip: boolean
      status:
        type: category
        values: [active, pending, closed]
`
}
