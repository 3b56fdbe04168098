package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/config"
)

var captureStdoutMu sync.Mutex

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	captureStdoutMu.Lock()
	defer captureStdoutMu.Unlock()

	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	os.Stdout = w

	outputCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		_, copyErr := io.Copy(&buf, r)
		_ = r.Close()
		if copyErr != nil {
			errCh <- copyErr
			return
		}
		outputCh <- buf.String()
	}()

	fn()

	os.Stdout = orig
	_ = w.Close()
	select {
	case err := <-errCh:
		t.Fatalf("io.Copy: %v", err)
		return ""
	case output := <-outputCh:
		return output
	}
}

const testFields = `entities:
  person:
    fields:
      lname: string
      age: number
      dob: date
      active: boolean
      vip: boolean
      status: {type: category, values: [active, pending, closed]}
`

// setupTestConfig points the CLI at a fresh data directory and field spec
// and turns on JSON output. extra is appended to the generated config.toml.
func setupTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "fields.yaml"), []byte(testFields), 0o644); err != nil {
		t.Fatalf("write fields: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf("data_dir = %q\ndefault_entity = \"person\"\n%s", filepath.Join(dir, "data"), extra)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, err := config.LoadFrom(cfgPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	prevCfg, prevConfigPath, prevResolved, prevJSON := cfg, configPath, resolvedConfigPath, jsonOutput
	t.Cleanup(func() {
		cfg, configPath, resolvedConfigPath, jsonOutput = prevCfg, prevConfigPath, prevResolved, prevJSON
	})
	cfg, configPath, resolvedConfigPath, jsonOutput = loaded, cfgPath, cfgPath, true
	return dir
}

type testResponse struct {
	OK       bool                   `json:"ok"`
	Data     map[string]interface{} `json:"data"`
	Error    *ErrorInfo             `json:"error"`
	Warnings []Warning              `json:"warnings"`
	Meta     *Meta                  `json:"meta"`
	raw      string
}

// runJSON runs cmd with args in JSON mode and decodes the envelope.
func runJSON(t *testing.T, cmd *cobra.Command, args ...string) testResponse {
	t.Helper()
	var runErr error
	out := captureStdout(t, func() {
		runErr = cmd.RunE(cmd, args)
	})
	if runErr != nil && !errors.Is(runErr, errReported) {
		t.Fatalf("%s returned unreported error: %v", cmd.Name(), runErr)
	}

	var resp testResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("expected JSON output, got parse error: %v; out=%s", err, out)
	}
	resp.raw = out
	if resp.OK == (runErr != nil) {
		t.Fatalf("ok=%v but error=%v; out=%s", resp.OK, runErr, out)
	}
	return resp
}

func (r testResponse) mustSucceed(t *testing.T) testResponse {
	t.Helper()
	if !r.OK {
		t.Fatalf("expected success, got %+v\nraw: %s", r.Error, r.raw)
	}
	return r
}

func (r testResponse) mustFail(t *testing.T, code string) testResponse {
	t.Helper()
	if r.OK || r.Error == nil {
		t.Fatalf("expected failure with %s, got success\nraw: %s", code, r.raw)
	}
	if r.Error.Code != code {
		t.Fatalf("error code = %s, want %s (%s)", r.Error.Code, code, r.Error.Message)
	}
	return r
}

func (r testResponse) str(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

func (r testResponse) strings(key string) []string {
	items, _ := r.Data[key].([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		out = append(out, s)
	}
	return out
}

func (r testResponse) details() map[string]interface{} {
	if r.Error == nil {
		return nil
	}
	d, _ := r.Error.Details.(map[string]interface{})
	return d
}

// setFlag sets a flag on cmd for the duration of the test.
func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	f := cmd.Flags().Lookup(name)
	if f == nil {
		t.Fatalf("%s has no flag %q", cmd.Name(), name)
	}
	prev := f.Value.String()
	if err := cmd.Flags().Set(name, value); err != nil {
		t.Fatalf("set --%s: %v", name, err)
	}
	t.Cleanup(func() {
		_ = f.Value.Set(prev)
		f.Changed = false
	})
}

func compactJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return string(data)
}
