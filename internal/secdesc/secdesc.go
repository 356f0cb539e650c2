// Package secdesc proxies the opaque per-node "security descriptor" blob
// (spec.md §6.12 / C12) onto a POSIX extended attribute, since the backing
// store here has no native Windows security descriptor of its own. Grounded
// on github.com/pkg/xattr, which appears in the retrieved pack as an
// indirect dependency of rclone's local backend.
package secdesc

import (
	"errors"
	"syscall"

	"github.com/pkg/xattr"
)

// attrName is the single xattr slot the proxy uses. "user." is the only
// namespace an unprivileged process can read and write on Linux.
const attrName = "user.convergefs.security_descriptor"

// Get returns the security descriptor bytes stored on realPath, or nil if
// none has ever been set.
func Get(realPath string) ([]byte, error) {
	b, err := xattr.Get(realPath, attrName)
	if err != nil {
		if isNotSet(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// Set stores sd as realPath's security descriptor.
func Set(realPath string, sd []byte) error {
	if len(sd) == 0 {
		return nil
	}
	return xattr.Set(realPath, attrName, sd)
}

// ComposeForNew returns the security descriptor a newly created child of
// parentRealPath should inherit: spec.md §6.7 "each created directory
// inherits the security descriptor computed for the file", which here means
// simple inheritance from the immediate parent. A parent with no descriptor
// of its own yields nil, not an error — new entries are not required to
// carry one.
func ComposeForNew(parentRealPath string) ([]byte, error) {
	return Get(parentRealPath)
}

// IsOwnAttr reports whether xattrName is the slot this package owns,
// letting a caller that enumerates all of a path's extended attributes
// (ops.FindStreams) exclude the security-descriptor proxy from whatever
// else it's listing.
func IsOwnAttr(xattrName string) bool {
	return xattrName == attrName
}

func isNotSet(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		err = xerr.Err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ENODATA || errno == syscall.ENOENT
	}
	return false
}
