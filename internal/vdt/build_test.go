package vdt

import (
	"os"
	"path/filepath"
	"testing"
)

func mustMkdirAll(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(p, 0755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, p, content string) {
	t.Helper()
	mustMkdirAll(t, filepath.Dir(p))
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestBuildShadowing is end-to-end scenario 1 from spec.md §8.
func TestBuildShadowing(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	w := filepath.Join(base, "w")
	mustWriteFile(t, filepath.Join(a, "readme.txt"), "old")
	mustWriteFile(t, filepath.Join(b, "readme.txt"), "new")
	mustMkdirAll(t, w)

	tree, err := Build([]string{a, b}, w)
	if err != nil {
		t.Fatal(err)
	}

	node, _ := tree.Root().NavigateToAny(`\readme.txt`)
	if node == nil {
		t.Fatal("expected readme.txt to be visible")
	}
	if node.VirtualDirectory() != b {
		t.Fatalf("expected shadowing layer b to win, got %q", node.VirtualDirectory())
	}
	data, err := os.ReadFile(node.FullPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Fatalf("expected bytes from higher-priority layer, got %q", data)
	}
}

// TestBuildWriteTargetParticipatesInShadowing covers the open question in
// spec.md §9: the write target participates in shadowing at build time
// because it is appended to the layer list before the merge pass.
func TestBuildWriteTargetParticipatesInShadowing(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	w := filepath.Join(base, "w")
	mustWriteFile(t, filepath.Join(a, "f.txt"), "from-a")
	mustWriteFile(t, filepath.Join(w, "f.txt"), "from-w")

	tree, err := Build([]string{a}, w)
	if err != nil {
		t.Fatal(err)
	}
	node, _ := tree.Root().NavigateToAny(`\f.txt`)
	if node.VirtualDirectory() != w {
		t.Fatalf("expected write target to win, got %q", node.VirtualDirectory())
	}
}

func TestBuildDirectoryMergeAcrossLayers(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	w := filepath.Join(base, "w")
	mustWriteFile(t, filepath.Join(a, "d", "f1"), "1")
	mustWriteFile(t, filepath.Join(b, "d", "f2"), "2")
	mustMkdirAll(t, w)

	tree, err := Build([]string{a, b}, w)
	if err != nil {
		t.Fatal(err)
	}

	if n, _ := tree.Root().NavigateToAny(`\d\f1`); n == nil {
		t.Fatal("expected d/f1 merged in from lower layer")
	}
	if n, _ := tree.Root().NavigateToAny(`\d\f2`); n == nil {
		t.Fatal("expected d/f2 visible from higher layer")
	}
}

func TestBuildTieBreakKindDiffers(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	w := filepath.Join(base, "w")
	mustMkdirAll(t, filepath.Join(a, "x")) // directory in lower layer
	mustWriteFile(t, filepath.Join(b, "x"), "file-wins") // file in higher layer
	mustMkdirAll(t, w)

	tree, err := Build([]string{a, b}, w)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := tree.Root().NavigateToAny(`\x`)
	if n == nil {
		t.Fatal("expected x to be visible")
	}
	if n.IsDirectory() {
		t.Fatal("expected higher-priority file to win over lower-priority directory")
	}
}

func TestBuildMissingLayerTolerated(t *testing.T) {
	base := t.TempDir()
	missing := filepath.Join(base, "does-not-exist")
	w := filepath.Join(base, "w")
	mustMkdirAll(t, w)

	if _, err := Build([]string{missing}, w); err != nil {
		t.Fatalf("expected missing layer to be tolerated, got %v", err)
	}
}
