package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertFileExists fails the test if the file does not exist.
func (e *TestEnv) AssertFileExists(relPath string) {
	e.t.Helper()
	if _, err := os.Stat(filepath.Join(e.Path, relPath)); os.IsNotExist(err) {
		e.t.Errorf("expected file to exist: %s", relPath)
	}
}

// AssertFileContains fails the test if the file does not contain the substring.
func (e *TestEnv) AssertFileContains(relPath, substr string) {
	e.t.Helper()
	content := e.ReadFile(relPath)
	if !strings.Contains(content, substr) {
		e.t.Errorf("expected file %s to contain %q, got:\n%s", relPath, substr, content)
	}
}

// AssertQuery checks that name is saved with the given canonical text.
func (e *TestEnv) AssertQuery(name, want string) {
	e.t.Helper()
	result := e.RunCLI("query", "show", name)
	result.MustSucceed(e.t)
	if got := result.DataString("query"); got != want {
		e.t.Errorf("query %s = %q, want %q", name, got, want)
	}
}

// AssertNoQuery checks that name is not saved.
func (e *TestEnv) AssertNoQuery(name string) {
	e.t.Helper()
	e.RunCLI("query", "show", name).MustFail(e.t, "QUERY_NOT_FOUND")
}

// AssertHasWarning checks that the result contains a warning with the given code.
func (r *CLIResult) AssertHasWarning(t *testing.T, code string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Code == code {
			return
		}
	}
	t.Errorf("expected warning with code %s, got warnings: %+v", code, r.Warnings)
}

// AssertNoWarnings checks that the result has no warnings.
func (r *CLIResult) AssertNoWarnings(t *testing.T) {
	t.Helper()
	if len(r.Warnings) > 0 {
		t.Errorf("expected no warnings, got: %+v", r.Warnings)
	}
}

// AssertResultCount checks that a list in the result has the expected length.
func (r *CLIResult) AssertResultCount(t *testing.T, key string, expected int) {
	t.Helper()
	results := r.DataList(key)
	if len(results) != expected {
		t.Errorf("expected %d %s, got %d\nRaw: %s", expected, key, len(results), r.RawJSON)
	}
}
