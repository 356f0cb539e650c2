package convergefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-containerregistry/pkg/authn"
)

func authConfigStub() authn.AuthConfig {
	return authn.AuthConfig{Username: "stub-user", Password: "stub-pass"}
}

// New constructs a process-wide registry singleton (internal/registry), so
// this file exercises exactly one Service across every assertion rather
// than calling New per test case.

func TestServiceLifecycle(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "work")

	svc, err := New(WithWorkDir(workDir), WithAuthSource("registry.example.com", authConfigStub()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := os.Stat(filepath.Join(workDir, "oci", "oci", "index.json")); err != nil {
		t.Fatalf("expected OCI layout initialized under workDir: %v", err)
	}

	if got := svc.authn.creds["registry.example.com"]; got.Username != "stub-user" {
		t.Fatalf("expected auth source registered, got %+v", got)
	}

	dir, err := svc.newMountDir("m1")
	if err != nil {
		t.Fatalf("newMountDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected allocated mount dir to exist, got %v %v", info, err)
	}
	if filepath.Dir(dir) != filepath.Join(workDir, "mounts") {
		t.Fatalf("expected mount dir under workDir/mounts, got %q", dir)
	}

	if got := svc.Mounts(); len(got) != 0 {
		t.Fatalf("expected no registered mounts yet, got %v", got)
	}

	if err := svc.Unmount(nil, "nonexistent"); err == nil {
		t.Fatal("expected error unmounting an id that was never registered")
	}
}

func TestNewAfterFirstFailsSingletonGuard(t *testing.T) {
	if _, err := New(WithWorkDir(filepath.Join(t.TempDir(), "work2"))); err == nil {
		t.Fatal("expected a second Service construction in this process to fail the registry singleton guard")
	}
}
