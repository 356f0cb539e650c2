package ops

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kxvfs/convergefs/internal/status"
)

// VolumeInfo is the subset of filesystem-wide statistics spec.md §4's
// volume-information operation reports.
type VolumeInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
	BlockSize      uint32
	MaxNameLength  uint32
}

// Volume statfs(2)s the write target (the one real filesystem every mount
// ultimately writes through) and reports it as the mount's volume info.
func Volume(writeTarget string) (VolumeInfo, syscall.Errno) {
	var st unix.Statfs_t
	if err := unix.Statfs(writeTarget, &st); err != nil {
		return VolumeInfo{}, status.FromOSError(err)
	}
	bsize := uint64(st.Bsize)
	return VolumeInfo{
		TotalBytes:     st.Blocks * bsize,
		FreeBytes:      st.Bfree * bsize,
		AvailableBytes: st.Bavail * bsize,
		BlockSize:      uint32(st.Bsize),
		MaxNameLength:  uint32(st.Namelen),
	}, status.Success
}
