package ops

import (
	"syscall"

	"github.com/kxvfs/convergefs/internal/secdesc"
	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// GetSecurity returns node's stored security descriptor bytes, or nil if
// none was ever set.
func GetSecurity(node *vdt.Node) ([]byte, syscall.Errno) {
	sd, err := secdesc.Get(node.Item().FullPath())
	if err != nil {
		return nil, status.FromOSError(err)
	}
	return sd, status.Success
}

// SetSecurity stores sd as node's security descriptor.
func SetSecurity(node *vdt.Node, sd []byte) syscall.Errno {
	if err := secdesc.Set(node.Item().FullPath(), sd); err != nil {
		return status.FromOSError(err)
	}
	return status.Success
}
