// Package fsctx implements the per-open-handle state table (spec.md §3
// FileContext, §4.9 state machine): real OS handle, bound VDT node, the
// original create-event snapshot, and the closed/cleanedUp flags that the
// two-phase Cleanup/Close shutdown observes.
package fsctx

import (
	"os"
	"sync"

	"github.com/kxvfs/convergefs/internal/vdt"
)

// Disposition is the create-disposition vocabulary spec.md §4.3 reasons
// about, independent of whatever flag encoding the bridge library uses to
// express it.
type Disposition int

const (
	OpenExisting Disposition = iota
	CreateNew
	CreateAlways
	OpenAlways
	TruncateExisting
)

// DesiredAccess bits, the subset of the Windows access mask the dispatcher
// reasons about (spec.md §6.7's "requested generic access").
const (
	AccessGenericRead uint32 = 1 << iota
	AccessGenericWrite
)

// ShareAccess bits.
const (
	ShareRead uint32 = 1 << iota
	ShareWrite
	ShareDelete
)

// CreateOptions bits, the subset of NtCreateFile's CreateOptions the
// dispatcher reasons about.
const (
	OptDirectoryFile uint32 = 1 << iota
	OptNonDirectoryFile
	OptDeleteOnClose
	OptBackupSemantics
)

// Event is the original create-event snapshot bound into a Context on
// successful open (spec.md §3 "event snapshot (original create
// parameters)").
type Event struct {
	Path              string
	Disposition       Disposition
	DesiredAccess     uint32
	ShareAccess       uint32
	CreateOptions     uint32
	FileAttributes    vdt.Attr
	IsDirectory       bool
	Impersonate       bool
	AsyncIO           bool
	DeleteOnCloseHint bool
}

// Context is one open handle's state, per spec.md §3/§4.9.
type Context struct {
	mu sync.RWMutex

	handle *os.File
	node   *vdt.Node
	event  Event

	closed        bool
	cleanedUp     bool
	deleteOnClose bool
}

// Bind attaches a real OS handle and VDT node to a freshly allocated
// Context and snapshots the triggering event — the Fresh -> Open
// transition.
func (c *Context) Bind(handle *os.File, node *vdt.Node, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = handle
	c.node = node
	c.event = event
	c.closed = false
	c.cleanedUp = false
	c.deleteOnClose = false
}

// Handle returns the bound real OS handle.
func (c *Context) Handle() *os.File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// Node returns the bound VDT node.
func (c *Context) Node() *vdt.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

// Event returns the snapshotted create event.
func (c *Context) Event() Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.event
}

// SetDeleteOnClose records that this handle should delete its node when
// the handle's owning open is torn down.
func (c *Context) SetDeleteOnClose(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteOnClose = v
}

// DeleteOnClose reports the delete-on-close flag.
func (c *Context) DeleteOnClose() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deleteOnClose
}

// Flags returns (closed, cleanedUp) as one consistent snapshot, taken
// under a single lock acquisition — the "small helper" spec.md §4.4
// requires Read/Write to consult before deciding how to service I/O.
func (c *Context) Flags() (closed, cleanedUp bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed, c.cleanedUp
}

// MarkCleanedUp performs the Open -> CleanedUp transition: the real OS
// handle is closed (the kernel Cleanup event releases it), but the
// Context itself remains valid for late I/O until Close arrives.
func (c *Context) MarkCleanedUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanedUp {
		return nil
	}
	c.cleanedUp = true
	if c.handle != nil {
		err := c.handle.Close()
		c.handle = nil
		return err
	}
	return nil
}

// MarkClosed performs the CleanedUp -> Closed transition (or, for a Close
// that arrives without a prior Cleanup, the Open -> Closed transition
// directly — both are legal per spec.md §4.9).
func (c *Context) MarkClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.cleanedUp && c.handle != nil {
		err := c.handle.Close()
		c.handle = nil
		c.cleanedUp = true
		return err
	}
	return nil
}

// reset clears a Context before it re-enters the pool's free list (the
// Closed -> Pooled -> Fresh transition).
func (c *Context) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = nil
	c.node = nil
	c.event = Event{}
	c.closed = false
	c.cleanedUp = false
	c.deleteOnClose = false
}

// Table is the thread-safe free list of Contexts (spec.md §5 "The
// FileContext pool is a thread-safe free list").
type Table struct {
	pool sync.Pool
}

// NewTable constructs an empty context table.
func NewTable() *Table {
	return &Table{pool: sync.Pool{New: func() any { return &Context{} }}}
}

// Alloc returns a fresh Context, either newly allocated or recycled from
// the pool.
func (t *Table) Alloc() *Context {
	return t.pool.Get().(*Context)
}

// Release returns a Closed Context to the pool. Callers must not use c
// after calling Release.
func (t *Table) Release(c *Context) {
	c.reset()
	t.pool.Put(c)
}
