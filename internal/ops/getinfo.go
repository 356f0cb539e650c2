package ops

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// GetInfo re-stats node's real backing entry and refreshes the VDT's cached
// FileItem from it, returning the refreshed snapshot.
func GetInfo(node *vdt.Node) (vdt.FileItem, syscall.Errno) {
	cur := node.Item()
	info, err := os.Lstat(cur.FullPath())
	if err != nil {
		return vdt.FileItem{}, status.FromOSError(err)
	}

	refreshed := vdt.ItemFromInfo(cur.Name, filepath.Dir(cur.FullPath()), info)
	// Attribute bits a Windows-style SetAttributes call may have layered on
	// top of what the mode bits alone imply are never clobbered by a stat
	// refresh.
	refreshed.Attributes |= cur.Attributes & (vdt.AttrHidden | vdt.AttrSystem | vdt.AttrReparsePoint)

	node.SetItem(refreshed)
	return refreshed, status.Success
}
