package ops

import (
	"strings"
	"syscall"

	"github.com/pkg/xattr"

	"github.com/kxvfs/convergefs/internal/secdesc"
	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// FindStreams lists node's alternate data streams (spec.md §4.7 / SPEC_FULL
// §6.8). POSIX has no native ADS concept, so the listing is proxied onto
// the bound real path's extended attributes — one stream name per xattr,
// excluding the slot secdesc owns — matching the "queries the underlying
// real FS on the bound path" wording. Names are written into dest
// NUL-separated; dest too short to hold all of them is BufferOverflow,
// otherwise Success stands in for the spec's EOF.
func FindStreams(node *vdt.Node, dest []byte) (int, syscall.Errno) {
	names, err := xattr.List(node.Item().FullPath())
	if err != nil {
		return 0, status.FromOSError(err)
	}

	var b strings.Builder
	for _, name := range names {
		if secdesc.IsOwnAttr(name) {
			continue
		}
		b.WriteString(name)
		b.WriteByte(0)
	}

	encoded := b.String()
	if len(dest) < len(encoded) {
		return len(encoded), status.BufferOverflow
	}
	copy(dest, encoded)
	return len(encoded), status.Success
}
