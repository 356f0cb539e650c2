package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/xattr"

	"github.com/kxvfs/convergefs/internal/fsctx"
	"github.com/kxvfs/convergefs/internal/ioengine"
	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

func newRootAndFile(t *testing.T, dir, name, content string) (*vdt.Tree, *vdt.Node) {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	node, _ := tree.Root().NavigateToAny(`\` + name)
	if node == nil {
		t.Fatalf("expected node for %q after build", name)
	}
	return tree, node
}

func TestReadWriteBeforeCleanup(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "hello")

	f, err := os.OpenFile(node.Item().FullPath(), os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	tbl := fsctx.NewTable()
	c := tbl.Alloc()
	c.Bind(f, node, fsctx.Event{})

	eng := ioengine.New(2, time.Second)
	buf := make([]byte, 5)
	n, errno := Read(context.Background(), c, eng, buf, 0)
	if errno != status.Success || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read got (%d, %v, %q)", n, errno, buf)
	}

	n, errno = Write(context.Background(), c, eng, []byte("WORLD"), 0)
	if errno != status.Success || n != 5 {
		t.Fatalf("Write got (%d, %v)", n, errno)
	}
}

func TestReadWriteAsyncIOUsesWorkerPool(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "hello")

	f, err := os.OpenFile(node.Item().FullPath(), os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	tbl := fsctx.NewTable()
	c := tbl.Alloc()
	c.Bind(f, node, fsctx.Event{AsyncIO: true})

	eng := ioengine.New(2, time.Second)
	buf := make([]byte, 5)
	n, errno := Read(context.Background(), c, eng, buf, 0)
	if errno != status.Success || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read got (%d, %v, %q)", n, errno, buf)
	}

	n, errno = Write(context.Background(), c, eng, []byte("WORLD"), 0)
	if errno != status.Success || n != 5 {
		t.Fatalf("Write got (%d, %v)", n, errno)
	}
}

func TestReadAfterCleanupUsesScratchHandle(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "hello")

	f, err := os.Open(node.Item().FullPath())
	if err != nil {
		t.Fatal(err)
	}
	tbl := fsctx.NewTable()
	c := tbl.Alloc()
	c.Bind(f, node, fsctx.Event{})
	if err := c.MarkCleanedUp(); err != nil {
		t.Fatal(err)
	}

	eng := ioengine.New(2, time.Second)
	buf := make([]byte, 5)
	n, errno := Read(context.Background(), c, eng, buf, 0)
	if errno != status.Success || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read after cleanup got (%d, %v, %q)", n, errno, buf)
	}
}

func TestReadOnClosedContextFails(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "hello")

	f, err := os.Open(node.Item().FullPath())
	if err != nil {
		t.Fatal(err)
	}
	tbl := fsctx.NewTable()
	c := tbl.Alloc()
	c.Bind(f, node, fsctx.Event{})
	c.MarkClosed()

	eng := ioengine.New(2, time.Second)
	buf := make([]byte, 5)
	if _, errno := Read(context.Background(), c, eng, buf, 0); errno != status.FileClosed {
		t.Fatalf("expected FileClosed, got %v", errno)
	}
}

func TestDeleteRemovesFileAndNode(t *testing.T) {
	dir := t.TempDir()
	tree, node := newRootAndFile(t, dir, "f.txt", "x")

	if errno := Delete(node); errno != status.Success {
		t.Fatalf("Delete: %v", errno)
	}
	if _, err := os.Stat(filepath.Join(dir, "f.txt")); !os.IsNotExist(err) {
		t.Fatal("expected real file removed")
	}
	if n, _ := tree.Root().NavigateToAny(`\f.txt`); n != nil {
		t.Fatal("expected node detached from VDT")
	}
}

func TestDeleteNonEmptyDirFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "d", "inner.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := tree.Root().NavigateToAny(`\d`)
	if d == nil {
		t.Fatal("expected directory node")
	}
	if errno := Delete(d); errno != status.DirectoryNotEmpty {
		t.Fatalf("expected DirectoryNotEmpty, got %v", errno)
	}
}

func TestCanDeleteRejectsReadonly(t *testing.T) {
	dir := t.TempDir()
	tree, node := newRootAndFile(t, dir, "f.txt", "x")

	item := node.Item()
	item.Attributes |= vdt.AttrReadonly
	node.SetItem(item)

	if errno := CanDelete(node); errno != status.CannotDelete {
		t.Fatalf("expected CannotDelete, got %v", errno)
	}
	if errno := Delete(node); errno != status.CannotDelete {
		t.Fatalf("expected Delete to refuse a readonly node, got %v", errno)
	}
	if _, err := os.Stat(filepath.Join(dir, "f.txt")); err != nil {
		t.Fatal("expected readonly file left untouched")
	}
	if n, _ := tree.Root().NavigateToAny(`\f.txt`); n == nil {
		t.Fatal("expected node still attached after refused delete")
	}
}

func TestFindStreamsListsXattrsExcludingSecurityDescriptor(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "x")

	if errno := SetSecurity(node, []byte("sd-bytes")); errno != status.Success {
		t.Fatalf("SetSecurity: %v", errno)
	}
	if err := xattr.Set(node.Item().FullPath(), "user.convergefs.stream.alt", []byte("stream-data")); err != nil {
		t.Fatal(err)
	}

	var buf [256]byte
	n, errno := FindStreams(node, buf[:])
	if errno != status.Success {
		t.Fatalf("FindStreams: %v", errno)
	}
	got := string(buf[:n])
	if !strings.Contains(got, "user.convergefs.stream.alt") {
		t.Fatalf("expected listed stream attr, got %q", got)
	}
	if strings.Contains(got, "security_descriptor") {
		t.Fatalf("expected security descriptor slot excluded, got %q", got)
	}
}

func TestFindStreamsShortBufferOverflows(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "x")

	if err := xattr.Set(node.Item().FullPath(), "user.convergefs.stream.alt", []byte("stream-data")); err != nil {
		t.Fatal(err)
	}

	var buf [1]byte
	if _, errno := FindStreams(node, buf[:]); errno != status.BufferOverflow {
		t.Fatalf("expected BufferOverflow, got %v", errno)
	}
}

func TestEnumerateWildcard(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.txt", "b.txt", "c.log"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}

	items := Enumerate(tree.Root(), "*.txt")
	if len(items) != 2 {
		t.Fatalf("expected 2 .txt entries, got %d", len(items))
	}

	all := Enumerate(tree.Root(), "")
	if len(all) != 3 {
		t.Fatalf("expected 3 entries unfiltered, got %d", len(all))
	}
}

func TestGetInfoRefreshesSize(t *testing.T) {
	dir := t.TempDir()
	tree, node := newRootAndFile(t, dir, "f.txt", "hi")

	if err := os.WriteFile(node.Item().FullPath(), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	item, errno := GetInfo(node)
	if errno != status.Success {
		t.Fatalf("GetInfo: %v", errno)
	}
	if item.FileSize != int64(len("hello world")) {
		t.Fatalf("expected refreshed size, got %d", item.FileSize)
	}
	if n, _ := tree.Root().NavigateToAny(`\f.txt`); n.Item().FileSize != item.FileSize {
		t.Fatal("expected node's cached item updated in place")
	}
}

func TestRenameMovesAcrossDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "dst"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	root := tree.Root()
	srcDir, _ := root.NavigateToAny(`\src`)
	dstDir, _ := root.NavigateToAny(`\dst`)
	srcNode, _ := root.NavigateToAny(`\src\f.txt`)

	moved, errno := Rename(srcNode, dstDir, nil, "g.txt", false, dir)
	if errno != status.Success {
		t.Fatalf("Rename: %v", errno)
	}
	if moved.Parent() != dstDir {
		t.Fatal("expected reparented under dst")
	}
	if _, err := os.Stat(filepath.Join(dir, "dst", "g.txt")); err != nil {
		t.Fatalf("expected real file at destination: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "f.txt")); !os.IsNotExist(err) {
		t.Fatal("expected source file gone")
	}
	if n, _ := srcDir.NavigateToAny(`\f.txt`); n != nil {
		t.Fatal("expected src directory no longer lists f.txt")
	}
}

func TestRenameRefusesReplaceWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	root := tree.Root()
	srcNode, _ := root.NavigateToAny(`\old.txt`)
	targetNode, _ := root.NavigateToAny(`\new.txt`)

	if _, errno := Rename(srcNode, root, targetNode, "new.txt", false, dir); errno != status.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", errno)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.txt")); err != nil {
		t.Fatal("expected refused rename to leave the real FS untouched")
	}
}

func TestRenameOverlayReplaceAbsorbsTarget(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("new-content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("stale-content"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree, err := vdt.Build(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	root := tree.Root()
	srcNode, _ := root.NavigateToAny(`\old.txt`)
	targetNode, _ := root.NavigateToAny(`\new.txt`)

	result, errno := Rename(srcNode, root, targetNode, "new.txt", true, dir)
	if errno != status.Success {
		t.Fatalf("Rename: %v", errno)
	}
	if result != targetNode {
		t.Fatal("expected the target node to survive under its own name")
	}
	if result.Item().Name != "new.txt" {
		t.Fatalf("expected surviving node still named new.txt, got %q", result.Item().Name)
	}
	if n, _ := root.NavigateToAny(`\old.txt`); n != nil {
		t.Fatal("expected src detached from the tree")
	}
	if _, err := os.Stat(filepath.Join(dir, "old.txt")); !os.IsNotExist(err) {
		t.Fatal("expected source file gone from the real FS")
	}
	got, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil || string(got) != "new-content" {
		t.Fatalf("expected destination to now hold src's content, got %q err=%v", got, err)
	}
}

func TestVolumeReportsStatfs(t *testing.T) {
	dir := t.TempDir()
	info, errno := Volume(dir)
	if errno != status.Success {
		t.Fatalf("Volume: %v", errno)
	}
	if info.TotalBytes == 0 {
		t.Fatal("expected non-zero total bytes")
	}
}

func TestSecurityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, node := newRootAndFile(t, dir, "f.txt", "x")

	want := []byte("opaque-descriptor-bytes")
	if errno := SetSecurity(node, want); errno != status.Success {
		t.Skipf("xattr not supported on this filesystem: %v", errno)
	}
	got, errno := GetSecurity(node)
	if errno != status.Success {
		t.Fatalf("GetSecurity: %v", errno)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
