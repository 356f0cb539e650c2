// Package fusebridge is the kernel bridge (spec.md §6, explicitly
// out-of-scope for the core but required to exercise it end to end): it
// implements go-fuse's InodeEmbedder/Node*er interfaces on top of the VDT,
// the dispatcher, and ops, translating between go-fuse's calling
// convention and the core's.
package fusebridge

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/kxvfs/convergefs/internal/dispatcher"
	"github.com/kxvfs/convergefs/internal/fsctx"
	"github.com/kxvfs/convergefs/internal/ioengine"
	"github.com/kxvfs/convergefs/internal/ops"
	"github.com/kxvfs/convergefs/internal/pathutil"
	"github.com/kxvfs/convergefs/internal/status"
	"github.com/kxvfs/convergefs/internal/vdt"
)

// shared is the per-mount state every Node in the tree holds a pointer to.
type shared struct {
	tree        *vdt.Tree
	writeTarget string
	disp        *dispatcher.Dispatcher
	io          *ioengine.Engine
	contexts    *fsctx.Table
}

// Node is one VDT entry's go-fuse inode.
type Node struct {
	fs.Inode
	vn *vdt.Node
	sh *shared
}

// NewRoot constructs the root InodeEmbedder for fs.Mount, backed by tree,
// dispatching creates/opens through disp and I/O through eng.
func NewRoot(tree *vdt.Tree, writeTarget string, disp *dispatcher.Dispatcher, eng *ioengine.Engine, contexts *fsctx.Table) fs.InodeEmbedder {
	return &Node{
		vn: tree.Root(),
		sh: &shared{tree: tree, writeTarget: writeTarget, disp: disp, io: eng, contexts: contexts},
	}
}

// handle is the go-fuse FileHandle wrapping one bound fsctx.Context.
type handle struct {
	ctx *fsctx.Context
}

var (
	_ = (fs.NodeGetattrer)((*Node)(nil))
	_ = (fs.NodeLookuper)((*Node)(nil))
	_ = (fs.NodeReaddirer)((*Node)(nil))
	_ = (fs.NodeCreater)((*Node)(nil))
	_ = (fs.NodeMkdirer)((*Node)(nil))
	_ = (fs.NodeUnlinker)((*Node)(nil))
	_ = (fs.NodeRmdirer)((*Node)(nil))
	_ = (fs.NodeOpener)((*Node)(nil))
	_ = (fs.NodeReader)((*Node)(nil))
	_ = (fs.NodeWriter)((*Node)(nil))
	_ = (fs.NodeFlusher)((*Node)(nil))
	_ = (fs.NodeReleaser)((*Node)(nil))
	_ = (fs.NodeRenamer)((*Node)(nil))
	_ = (fs.NodeGetxattrer)((*Node)(nil))
	_ = (fs.NodeSetxattrer)((*Node)(nil))
	_ = (fs.NodeListxattrer)((*Node)(nil))
	_ = (fs.NodeStatfser)((*Node)(nil))
)

// childPath returns the VDT-absolute path of a child named name under n.
func (n *Node) childPath(name string) string {
	return pathutil.Join(n.vn.RelativePath(), name)
}

func (n *Node) newChildInode(ctx context.Context, vn *vdt.Node) *fs.Inode {
	mode := uint32(0)
	if vn.IsDirectory() {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, &Node{vn: vn, sh: n.sh}, fs.StableAttr{Mode: mode, Ino: vn.ID()})
}

func attrFromItem(out *fuse.Attr, item vdt.FileItem) {
	perm := uint32(0o644)
	if item.Attributes.Has(vdt.AttrReadonly) {
		perm = 0o444
	}
	if item.IsDir() {
		out.Mode = fuse.S_IFDIR | 0o755
	} else {
		out.Mode = fuse.S_IFREG | perm
	}
	out.Size = uint64(item.FileSize)
	out.SetTimes(&item.LastAccessTime, &item.ModificationTime, &item.CreationTime)
}

func attrsFromPerm(mode uint32) vdt.Attr {
	var a vdt.Attr
	if mode&0o222 == 0 {
		a |= vdt.AttrReadonly
	}
	return a
}

func accessFromPosixFlags(flags uint32) uint32 {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return fsctx.AccessGenericWrite
	case syscall.O_RDWR:
		return fsctx.AccessGenericRead | fsctx.AccessGenericWrite
	default:
		return fsctx.AccessGenericRead
	}
}

// Getattr re-stats the real backing entry on every call, keeping Getattr
// the single source of truth for freshness rather than trusting the
// kernel's attribute cache across writes from other processes.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	item, errno := ops.GetInfo(n.vn)
	if errno != status.Success {
		item = n.vn.Item()
	}
	attrFromItem(&out.Attr, item)
	return fs.OK
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, _ := n.vn.NavigateToAny(pathutil.Separator + name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	attrFromItem(&out.Attr, child.Item())
	return n.newChildInode(ctx, child), fs.OK
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	items := ops.Enumerate(n.vn, "")
	entries := make([]fuse.DirEntry, 0, len(items))
	for _, it := range items {
		mode := uint32(fuse.S_IFREG)
		if it.IsDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: it.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	req := fsctx.Event{
		Path:           n.childPath(name),
		Disposition:    dispatcher.TranslateDisposition(flags),
		DesiredAccess:  accessFromPosixFlags(flags),
		FileAttributes: attrsFromPerm(mode),
	}
	res, _, errno := n.sh.disp.CreateOpen(req, dispatcher.CallerCreds{})
	if errno != status.Success {
		return nil, nil, 0, errno
	}
	attrFromItem(&out.Attr, res.Node.Item())
	inode := n.newChildInode(ctx, res.Node)
	return inode, &handle{ctx: res.Context}, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	req := fsctx.Event{
		Path:           n.childPath(name),
		Disposition:    fsctx.CreateNew,
		CreateOptions:  fsctx.OptDirectoryFile,
		IsDirectory:    true,
		FileAttributes: attrsFromPerm(mode),
	}
	res, _, errno := n.sh.disp.CreateOpen(req, dispatcher.CallerCreds{})
	if errno != status.Success {
		return nil, errno
	}
	// Mkdir never hands back an open handle to the kernel; tear down the
	// context we had to allocate to drive CreateOpen's directory branch.
	res.Context.MarkCleanedUp()
	res.Context.MarkClosed()
	n.sh.contexts.Release(res.Context)

	attrFromItem(&out.Attr, res.Node.Item())
	return n.newChildInode(ctx, res.Node), fs.OK
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	req := fsctx.Event{
		Path:          n.vn.RelativePath(),
		Disposition:   dispatcher.TranslateDisposition(flags),
		DesiredAccess: accessFromPosixFlags(flags),
	}
	res, _, errno := n.sh.disp.CreateOpen(req, dispatcher.CallerCreds{})
	if errno != status.Success {
		return nil, 0, errno
	}
	return &handle{ctx: res.Context}, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*handle)
	if !ok {
		return nil, syscall.EBADF
	}
	got, errno := ops.Read(ctx, h.ctx, n.sh.io, dest, off)
	if errno != status.Success {
		return nil, errno
	}
	return fuse.ReadResultData(dest[:got]), fs.OK
}

func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	h, ok := fh.(*handle)
	if !ok {
		return 0, syscall.EBADF
	}
	written, errno := ops.Write(ctx, h.ctx, n.sh.io, data, off)
	return uint32(written), errno
}

func (n *Node) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	h, ok := fh.(*handle)
	if !ok {
		return syscall.EBADF
	}
	return status.FromOSError(h.ctx.MarkCleanedUp())
}

func (n *Node) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	h, ok := fh.(*handle)
	if !ok {
		return syscall.EBADF
	}
	deleteOnClose := h.ctx.DeleteOnClose()
	vn := h.ctx.Node()
	err := h.ctx.MarkClosed()
	n.sh.contexts.Release(h.ctx)
	if deleteOnClose && vn != nil {
		ops.Delete(vn)
	}
	return status.FromOSError(err)
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	child, _ := n.vn.NavigateToAny(pathutil.Separator + name)
	if child == nil {
		return syscall.ENOENT
	}
	return ops.Delete(child)
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	child, _ := n.vn.NavigateToAny(pathutil.Separator + name)
	if child == nil {
		return syscall.ENOENT
	}
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	target, _ := dst.vn.NavigateToAny(pathutil.Separator + newName)
	replaceIfExisting := flags&unix.RENAME_NOREPLACE == 0
	_, errno := ops.Rename(child, dst.vn, target, newName, replaceIfExisting, n.sh.writeTarget)
	return errno
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	sd, errno := ops.GetSecurity(n.vn)
	if errno != status.Success {
		return 0, errno
	}
	if len(dest) < len(sd) {
		return uint32(len(sd)), syscall.ERANGE
	}
	copy(dest, sd)
	return uint32(len(sd)), fs.OK
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return ops.SetSecurity(n.vn, data)
}

// Listxattr serves as the bridge's FindStreams call site: go-fuse has no
// native "alternate data stream" enumeration, but its extended-attribute
// listing is the same shape (a NUL-separated name list into a caller
// buffer), so FindStreams answers it directly.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	written, errno := ops.FindStreams(n.vn, dest)
	return uint32(written), errno
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, errno := ops.Volume(n.sh.writeTarget)
	if errno != status.Success {
		return errno
	}
	if info.BlockSize == 0 {
		info.BlockSize = 4096
	}
	out.Bsize = info.BlockSize
	out.Blocks = info.TotalBytes / uint64(info.BlockSize)
	out.Bfree = info.FreeBytes / uint64(info.BlockSize)
	out.Bavail = info.AvailableBytes / uint64(info.BlockSize)
	out.NameLen = info.MaxNameLength
	return fs.OK
}
