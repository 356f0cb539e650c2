// Package status maps the core's status taxonomy (spec.md §7) onto the
// syscall.Errno vocabulary the bridge (go-fuse) expects, plus a
// "success-with-note" type for dispositions that succeed but want the
// caller to know a pre-existing file was found.
package status

import (
	"errors"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
)

// Note is a success-with-note signal: the operation succeeded, but the
// dispatcher wants to report an additional fact (e.g. ObjectNameCollision)
// to the caller without it crossing the bridge boundary as an error.
type Note int

const (
	NoteNone Note = iota
	NoteObjectNameCollision
)

// The core-returned status kinds from spec.md §7, realized as the errno
// values go-fuse (and the Linux VFS) use to signal them. Where Windows has
// no direct POSIX analogue, the closest-meaning errno is used, matching
// how the teacher's unionfs package maps real-FS failures with fs.ToErrno.
const (
	Success           = fs.OK
	FileClosed        = syscall.EBADF
	FileInvalid       = syscall.ENOENT
	FileIsADirectory  = syscall.EISDIR
	NotADirectory     = syscall.ENOTDIR
	ObjectPathNotFound = syscall.ENOENT
	ObjectNameInvalid  = syscall.EINVAL
	AccessDenied       = syscall.EACCES
	CannotDelete       = syscall.EACCES
	DirectoryNotEmpty  = syscall.ENOTEMPTY
	BufferOverflow     = syscall.ERANGE
	InternalError      = syscall.EIO
	AlreadyExists      = syscall.EEXIST
)

// FromOSError maps a real-FS failure straight through to an errno, the
// "pass-through family derived from the underlying OS error code" the spec
// requires. An error that carries no errno and is not a not-exist,
// permission or already-exists error maps to InternalError.
func FromOSError(err error) syscall.Errno {
	if err == nil {
		return Success
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.As(pathErr.Err, &errno) {
			return errno
		}
	}
	if os.IsNotExist(err) {
		return ObjectPathNotFound
	}
	if os.IsPermission(err) {
		return AccessDenied
	}
	if os.IsExist(err) {
		return AlreadyExists
	}
	return InternalError
}
