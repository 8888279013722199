// Package testutil provides sandboxed files, stores and settings for tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestEnv is a per-test temporary directory. Every path handed to it is
// resolved inside the directory and the test fails if one escapes it.
type TestEnv struct {
	t       *testing.T
	rootDir string
}

// NewTestEnv creates a sandbox that is removed when the test completes.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return &TestEnv{
		t:       t,
		rootDir: t.TempDir(),
	}
}

// RootDir returns the root directory of the sandbox.
func (e *TestEnv) RootDir() string {
	return e.rootDir
}

// Path returns the absolute path of elem inside the sandbox.
func (e *TestEnv) Path(elem ...string) string {
	e.t.Helper()

	p := filepath.Clean(filepath.Join(e.rootDir, filepath.Join(elem...)))
	if !e.isWithinSandbox(p) {
		e.t.Fatalf("path %q escapes test sandbox %q", p, e.rootDir)
	}
	return p
}

func (e *TestEnv) isWithinSandbox(path string) bool {
	root := filepath.Clean(e.rootDir)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// WriteFile writes content to path, creating parent directories.
func (e *TestEnv) WriteFile(path string, content []byte) {
	e.t.Helper()

	p := e.Path(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		e.t.Fatalf("failed to create directory for %q: %v", p, err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		e.t.Fatalf("failed to write file %q: %v", p, err)
	}
}

// WriteFileString writes a string to path.
func (e *TestEnv) WriteFileString(path, content string) {
	e.t.Helper()
	e.WriteFile(path, []byte(content))
}

// ReadFile reads path from the sandbox.
func (e *TestEnv) ReadFile(path string) []byte {
	e.t.Helper()

	p := e.Path(path)
	content, err := os.ReadFile(p)
	if err != nil {
		e.t.Fatalf("failed to read file %q: %v", p, err)
	}
	return content
}

// ReadFileString reads path as a string.
func (e *TestEnv) ReadFileString(path string) string {
	e.t.Helper()
	return string(e.ReadFile(path))
}

// MkdirAll creates a directory and its parents.
func (e *TestEnv) MkdirAll(path string) {
	e.t.Helper()

	p := e.Path(path)
	if err := os.MkdirAll(p, 0o755); err != nil {
		e.t.Fatalf("failed to create directory %q: %v", p, err)
	}
}

// FileExists reports whether path exists.
func (e *TestEnv) FileExists(path string) bool {
	e.t.Helper()

	_, err := os.Stat(e.Path(path))
	return err == nil
}

// RequireFileExists fails the test if path does not exist.
func (e *TestEnv) RequireFileExists(path string) {
	e.t.Helper()

	if !e.FileExists(path) {
		e.t.Fatalf("expected file %q to exist", e.Path(path))
	}
}

// RequireFileNotExists fails the test if path exists.
func (e *TestEnv) RequireFileNotExists(path string) {
	e.t.Helper()

	if e.FileExists(path) {
		e.t.Fatalf("expected file %q to not exist", e.Path(path))
	}
}

// Stat returns file info for path, failing the test on error.
func (e *TestEnv) Stat(path string) os.FileInfo {
	e.t.Helper()

	info, err := os.Stat(e.Path(path))
	if err != nil {
		e.t.Fatalf("failed to stat %q: %v", path, err)
	}
	return info
}

// Chdir makes path the working directory until the test completes.
func (e *TestEnv) Chdir(path string) {
	e.t.Helper()
	e.t.Chdir(e.Path(path))
}

// AssertFileContains checks that path contains expected.
func (e *TestEnv) AssertFileContains(path, expected string) {
	e.t.Helper()

	if content := e.ReadFileString(path); !strings.Contains(content, expected) {
		e.t.Errorf("file %q does not contain expected string %q", path, expected)
	}
}

// AssertFileEquals checks that path holds exactly expected.
func (e *TestEnv) AssertFileEquals(path, expected string) {
	e.t.Helper()

	if content := e.ReadFileString(path); content != expected {
		e.t.Errorf("file %q content mismatch:\ngot:\n%s\n\nwant:\n%s", path, content, expected)
	}
}

// UnsetEnv removes key from the environment until the test completes.
func (e *TestEnv) UnsetEnv(key string) {
	e.t.Helper()

	// Setenv registers the restore of the previous value.
	e.t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		e.t.Fatalf("failed to unset environment variable %q: %v", key, err)
	}
}
