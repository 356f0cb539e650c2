package ocilayer

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
)

func TestProjectBuildsDirsAndSymlinks(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "blob-content")
	if err := os.WriteFile(blob, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	img := &Image{layers: []*Layer{
		mkLayer("l0",
			&File{Hdr: &tar.Header{Name: "sub", Typeflag: tar.TypeDir}},
			&File{Hdr: &tar.Header{Name: "sub/f.txt", Typeflag: tar.TypeReg}, Path: blob},
		),
	}}

	s := &Store{path: dir}
	out := filepath.Join(dir, "materialized", "sha256", "deadbeef")
	if err := s.project(img, out); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(out, "sub"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected sub/ directory, got %v %v", info, err)
	}

	data, err := os.ReadFile(filepath.Join(out, "sub", "f.txt"))
	if err != nil {
		t.Fatalf("expected readable symlinked file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want hello", data)
	}

	target, err := os.Readlink(filepath.Join(out, "sub", "f.txt"))
	if err != nil || target != blob {
		t.Fatalf("expected symlink to blob store, got %q %v", target, err)
	}
}

func TestProjectRebuildsFromScratch(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "materialized", "sha256", "deadbeef")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(out, "stale.txt")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Store{path: dir}
	img := &Image{layers: []*Layer{mkLayer("l0")}}
	if err := s.project(img, out); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale projection wiped before rebuilding")
	}
}
