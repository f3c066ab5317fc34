package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesSampleConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("init execute: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "openapi2mcp configuration") {
		t.Fatalf("unexpected config contents: %s", s)
	}
}

// Every key documented in the sample must be accepted by generate.
func TestInit_SampleKeysAreKnown(t *testing.T) {
	t.Parallel()
	for _, line := range strings.Split(sampleConfigYAML, "\n") {
		line = strings.TrimPrefix(line, "# ")
		key, _, ok := strings.Cut(line, ": ")
		if !ok || strings.ContainsAny(key, " ()") {
			continue
		}
		var cfg GenerateConfig
		if err := applyConfigField(&cfg, normalizeKey(key), nil); err != nil {
			t.Errorf("sample key %q: %v", key, err)
		}
	}
}

func TestInit_ExistingWithoutForce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("prewrite: %v", err)
	}

	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path})

	err := root.Execute()
	if err == nil {
		t.Fatalf("expected error for existing file without --force")
	}
	if _, ok := err.(usageError); !ok {
		t.Fatalf("expected usage error, got %T: %v", err, err)
	}
}

func TestInit_ForceReplacesAndReportsPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "openapi2mcp.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("stale: true\n"), 0o600); err != nil {
		t.Fatalf("prewrite: %v", err)
	}

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"init", "--out", path, "--force"})
	if err := root.Execute(); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Fatalf("file was not replaced: %s", data)
	}
	if !strings.Contains(out.String(), "Wrote sample config to "+path) {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestInit_RejectsDirectoryAndArgs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "--out", dir, "--force"},
		{"init", "extra"},
	} {
		root := NewRootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(args)
		if err := root.Execute(); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}
