package ops

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kxvfs/convergefs/internal/pathutil"
	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// Rename implements spec.md §4.5's four-case table for a rename/move
// request already resolved against the VDT:
//
//   - srcNode is the entry being renamed/moved.
//   - dstParent is the directory newName will live in.
//   - targetNode is whatever already occupies dstParent/newName, or nil if
//     that name is free (the pure-rename and move cases).
//   - replaceIfExisting is the caller's intent when targetNode is not nil:
//     false refuses the rename outright (AlreadyExists, checked before any
//     real-FS mutation so a refused rename never leaves the real FS and the
//     VDT inconsistent with each other); true performs an overlay-replace,
//     where targetNode survives under its own name but absorbs srcNode's
//     content and srcNode is detached, rather than running the name
//     through MoveChild and colliding with the entry already there.
//
// The real backing file is moved first (an os.Rename, which already
// replaces an existing destination on POSIX; or a copy-and-remove when the
// move crosses backing layers and returns EXDEV), then the VDT is updated
// to match.
func Rename(srcNode, dstParent, targetNode *vdt.Node, newName string, replaceIfExisting bool, writeTarget string) (*vdt.Node, syscall.Errno) {
	srcParent := srcNode.Parent()
	if srcParent == nil {
		return nil, status.AccessDenied
	}
	if targetNode != nil && !replaceIfExisting {
		return nil, status.AlreadyExists
	}

	oldPath := srcNode.Item().FullPath()
	newDir := pathutil.RealDir(writeTarget, dstParent.RelativePath())
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return nil, status.FromOSError(err)
	}
	newPath := filepath.Join(newDir, newName)

	if err := os.Rename(oldPath, newPath); err != nil {
		if !isCrossDevice(err) {
			return nil, status.FromOSError(err)
		}
		if err := copyThenRemove(oldPath, newPath, srcNode.IsDirectory()); err != nil {
			return nil, status.FromOSError(err)
		}
	}

	if targetNode != nil {
		targetNode.TakeItem(srcNode)
		srcNode.RemoveThisChild()

		targetNode.SetVirtualDirectory(writeTarget)
		item := targetNode.Item()
		item.Source = newDir
		targetNode.SetItem(item)
		return targetNode, status.Success
	}

	oldName := srcNode.Item().Name
	moved, err := srcParent.MoveChild(oldName, dstParent, newName)
	if err != nil {
		return nil, status.FromOSError(err)
	}

	moved.SetVirtualDirectory(writeTarget)
	item := moved.Item()
	item.Source = newDir
	moved.SetItem(item)

	return moved, status.Success
}

func isCrossDevice(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	errno, ok := linkErr.Err.(syscall.Errno)
	return ok && errno == syscall.EXDEV
}

// copyThenRemove is the EXDEV fallback for a file move across backing
// layers. Directory trees crossing devices are out of scope — the spec's
// write target is always one real filesystem — so that case is reported
// straight back as EXDEV.
func copyThenRemove(src, dst string, isDir bool) error {
	if isDir {
		return syscall.EXDEV
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
