package ops

import (
	"os"
	"syscall"

	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// CanDelete reports whether node may be deleted: CannotDelete on the
// read-only attribute, DirectoryNotEmpty on a non-empty directory, else
// Success (spec.md §4.6).
func CanDelete(node *vdt.Node) syscall.Errno {
	item := node.Item()
	if item.Attributes.Has(vdt.AttrReadonly) {
		return status.CannotDelete
	}

	if node.IsDirectory() {
		entries, err := os.ReadDir(item.FullPath())
		if err != nil {
			return status.FromOSError(err)
		}
		if len(entries) > 0 {
			return status.DirectoryNotEmpty
		}
	}

	return status.Success
}

// Delete removes node's real backing entry and detaches it from the VDT,
// after running it past CanDelete.
func Delete(node *vdt.Node) syscall.Errno {
	if errno := CanDelete(node); errno != status.Success {
		return errno
	}

	if err := os.Remove(node.Item().FullPath()); err != nil {
		return status.FromOSError(err)
	}

	node.RemoveThisChild()
	return status.Success
}
