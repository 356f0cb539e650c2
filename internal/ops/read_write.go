// Package ops implements the steady-state file operations spec.md §4
// describes once a FileContext has been bound by the dispatcher: read,
// write, rename, delete, directory enumeration, GetInfo, the security
// descriptor proxy, and volume information.
package ops

import (
	"context"
	"os"
	"syscall"

	"github.com/kxvfs/convergefs/internal/fsctx"
	"github.com/kxvfs/convergefs/internal/ioengine"
	"github.com/kxvfs/convergefs/internal/status"
)

// Read services a positioned read against ctx, consulting its closed/
// cleanedUp flags first (spec.md §4.4). A read that arrives after Cleanup
// but before Close — the late-I/O window spec.md §11 leaves open — opens a
// private scratch handle scoped to this one call rather than touching the
// context's (already nil) bound handle. The bound event's AsyncIO flag
// picks the worker-pool path or the direct synchronous one.
func Read(ctx context.Context, c *fsctx.Context, eng *ioengine.Engine, dest []byte, off int64) (int, syscall.Errno) {
	closed, cleanedUp := c.Flags()
	if closed {
		return 0, status.FileClosed
	}
	if !cleanedUp {
		if !c.Event().AsyncIO {
			n, err := eng.Read(c.Handle(), dest, off)
			return n, status.FromOSError(err)
		}
		n, err := eng.ReadAsync(ctx, c.Handle(), dest, off)
		return n, status.FromOSError(err)
	}
	return readAfterCleanup(ctx, c, eng, dest, off)
}

// Write services a positioned write under the same closed/cleanedUp and
// AsyncIO discipline as Read.
func Write(ctx context.Context, c *fsctx.Context, eng *ioengine.Engine, data []byte, off int64) (int, syscall.Errno) {
	closed, cleanedUp := c.Flags()
	if closed {
		return 0, status.FileClosed
	}
	if !cleanedUp {
		if !c.Event().AsyncIO {
			n, err := eng.Write(c.Handle(), data, off)
			return n, status.FromOSError(err)
		}
		n, err := eng.WriteAsync(ctx, c.Handle(), data, off)
		return n, status.FromOSError(err)
	}
	return writeAfterCleanup(ctx, c, eng, data, off)
}

func readAfterCleanup(ctx context.Context, c *fsctx.Context, eng *ioengine.Engine, dest []byte, off int64) (int, syscall.Errno) {
	f, err := os.Open(c.Node().Item().FullPath())
	if err != nil {
		return 0, status.FromOSError(err)
	}
	defer f.Close()
	n, err := eng.ReadAsync(ctx, f, dest, off)
	return n, status.FromOSError(err)
}

func writeAfterCleanup(ctx context.Context, c *fsctx.Context, eng *ioengine.Engine, data []byte, off int64) (int, syscall.Errno) {
	f, err := os.OpenFile(c.Node().Item().FullPath(), os.O_RDWR, 0o644)
	if err != nil {
		return 0, status.FromOSError(err)
	}
	defer f.Close()
	n, err := eng.WriteAsync(ctx, f, data, off)
	return n, status.FromOSError(err)
}
