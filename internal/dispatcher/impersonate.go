package dispatcher

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// impersonate runs fn with the calling OS thread's effective uid/gid
// switched to creds, then unconditionally reverted — the POSIX reading of
// spec.md §4.3.3's "obtain the caller's access token before touching the
// real filesystem, and revert it unconditionally on every exit path".
//
// setresuid/setresgid apply to the calling thread only when issued through
// a raw syscall (as golang.org/x/sys/unix does, bypassing glibc's
// process-wide pthread broadcast), so this must run with the OS thread
// locked for its entire duration or another goroutine could observe the
// impersonated identity.
func impersonate(creds CallerCreds, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origUID := unix.Getuid()
	origGID := unix.Getgid()

	if err := unix.Setresgid(-1, int(creds.GID), -1); err != nil {
		return err
	}
	defer unix.Setresgid(-1, origGID, -1)

	if err := unix.Setresuid(-1, int(creds.UID), -1); err != nil {
		return err
	}
	defer unix.Setresuid(-1, origUID, -1)

	return fn()
}
