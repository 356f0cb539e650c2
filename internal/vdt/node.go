package vdt

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kxvfs/convergefs/internal/pathutil"
)

// ErrAlreadyExists is returned by AddChild when the name collides under
// case-insensitive comparison.
var ErrAlreadyExists = errors.New("vdt: child already exists")

// ErrNotExist is returned by MoveChild when the named child is not present.
var ErrNotExist = errors.New("vdt: child does not exist")

// childEntry wraps a child pointer for storage in Node.children. The
// original spelling of its name lives on the child itself (item.Name); the
// map is keyed by fold (pathutil.CaseFoldKey) so lookups are
// case-insensitive.
type childEntry struct {
	node *Node
}

// Node is one entry in the merged tree. Children are indexed by
// case-insensitive key, preserving the insertion order of first occurrence
// (spec.md §3 "Children keys are unique under case-insensitive comparison").
//
// The original design (KxVirtualFileSystem's FileNode) hosts nodes in an
// arena addressed by index specifically to avoid a C++ ownership cycle
// between parent and child. Go's garbage collector already reclaims
// reference cycles safely, so there is no memory-safety reason to indirect
// through an arena here. What the arena bought beyond that — a stable,
// comparable identity usable to establish a total lock order — is kept
// directly as Node.id, a monotonically increasing value assigned at
// construction; rename-replace locks two nodes in id order exactly as the
// spec's "lock min(src, dst) then max(src, dst) by pointer value" intends.
type Node struct {
	mu sync.RWMutex

	id   uint64
	tree *Tree

	item FileItem

	parent   *Node
	children map[string]*childEntry
	order    []string // fold keys, insertion order of first occurrence

	// virtualDirectory is the absolute path of the backing layer currently
	// providing this node's content; for nodes created by the dispatcher
	// this is always the write target.
	virtualDirectory string

	nameLowerCase string
}

// ID returns the node's stable identity, used for lock-ordering comparisons.
func (n *Node) ID() uint64 { return n.id }

// Item returns a copy of the node's current FileItem snapshot, taken under
// the node's read lock. Callers that need the lock held across several
// operations use RLock/RUnlock instead.
func (n *Node) Item() FileItem {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.item
}

// VirtualDirectory returns the backing layer path currently providing this
// node, under a shared lock.
func (n *Node) VirtualDirectory() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.virtualDirectory
}

// Parent returns the non-owning back-reference to the parent node. Never
// traverse upward from a node that has been detached (RemoveThisChild) —
// its parent pointer remains set for diagnostics but the parent no longer
// references it back.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether n is the tree root.
func (n *Node) IsRoot() bool { return n.parent == nil }

// IsDirectory reports whether the node denotes a directory.
func (n *Node) IsDirectory() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.item.IsDir()
}

// Lock exposes the node's RW lock for callers (dispatcher, ops) that must
// hold it across several operations, e.g. a copy-up sequence.
func (n *Node) Lock()    { n.mu.Lock() }
func (n *Node) Unlock()  { n.mu.Unlock() }
func (n *Node) RLock()   { n.mu.RLock() }
func (n *Node) RUnlock() { n.mu.RUnlock() }

// NameLowerCase returns the cached fold key used for wildcard matching.
func (n *Node) NameLowerCase() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nameLowerCase
}

// FullPath returns the node's current real path, from its FileItem.
func (n *Node) FullPath() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.item.FullPath()
}

// FullPathWithPrefix is the long-path-prefixed form of FullPath.
func (n *Node) FullPathWithPrefix() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.item.FullPathWithPrefix()
}

// RelativePath returns the path from the VDT root to this node, using the
// bridge's path conventions (backslash-separated).
func (n *Node) RelativePath() string {
	if n.IsRoot() {
		return pathutil.Separator
	}
	var segs []string
	for cur := n; cur != nil && !cur.IsRoot(); cur = cur.parent {
		segs = append([]string{cur.Item().Name}, segs...)
	}
	return pathutil.Join(segs...)
}

// NavigateToAny walks path from n (intended to be called on the root) and
// returns the matched node together with its parent. When path resolves to
// the root, node == root and parent == nil. When a segment is not found,
// node is nil and parent is the last node matched before that segment.
func (root *Node) NavigateToAny(path string) (node *Node, parent *Node) {
	segs := pathutil.Segments(path)
	cur := root
	var prev *Node
	for _, seg := range segs {
		key := pathutil.CaseFoldKey(seg)
		cur.mu.RLock()
		entry, ok := cur.children[key]
		cur.mu.RUnlock()
		if !ok {
			return nil, cur
		}
		prev = cur
		cur = entry.node
	}
	return cur, prev
}

// NavigateToFolder is NavigateToAny restricted to directories: it returns
// nil if the matched node exists but is not a directory.
func (root *Node) NavigateToFolder(path string) *Node {
	node, _ := root.NavigateToAny(path)
	if node == nil || !node.IsDirectory() {
		return nil
	}
	return node
}

// AddChild inserts a new child under n, which must be a directory. The
// caller must not hold n's lock: AddChild takes n's write lock internally,
// matching spec.md §4.2 ("insert under write lock").
func (n *Node) AddChild(item FileItem, virtualDirectory string) (*Node, error) {
	key := pathutil.CaseFoldKey(item.Name)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.children == nil {
		n.children = make(map[string]*childEntry)
	}
	if _, exists := n.children[key]; exists {
		return nil, ErrAlreadyExists
	}

	child := &Node{
		id:               n.tree.nextID(),
		tree:             n.tree,
		item:             item,
		parent:           n,
		virtualDirectory: virtualDirectory,
		nameLowerCase:    key,
	}
	if item.IsDir() {
		child.children = make(map[string]*childEntry)
	}
	n.children[key] = &childEntry{node: child}
	n.order = append(n.order, key)
	return child, nil
}

// RemoveThisChild detaches n from its parent's child map under the
// parent's write lock. Calling RemoveThisChild on the root is a no-op.
func (n *Node) RemoveThisChild() {
	if n.parent == nil {
		return
	}
	p := n.parent
	key := pathutil.CaseFoldKey(n.Item().Name)

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.children[key]; ok && entry.node == n {
		delete(p.children, key)
		for i, k := range p.order {
			if k == key {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
}

// WalkChildren iterates n's direct children, in insertion order, under a
// shared lock. The visitor may return false to stop early.
func (n *Node) WalkChildren(visitor func(*Node) bool) {
	n.mu.RLock()
	nodes := make([]*Node, 0, len(n.order))
	for _, key := range n.order {
		if entry, ok := n.children[key]; ok {
			nodes = append(nodes, entry.node)
		}
	}
	n.mu.RUnlock()

	for _, c := range nodes {
		if !visitor(c) {
			return
		}
	}
}

// WalkTree performs a depth-first traversal of n and its descendants under
// shared locks, never upgrading to a write lock mid-walk. relPath is the
// path of each visited node relative to the traversal root.
func (n *Node) WalkTree(visitor func(node *Node, relPath string) bool) {
	n.walkTree("", visitor)
}

func (n *Node) walkTree(relPath string, visitor func(*Node, string) bool) bool {
	if !visitor(n, relPath) {
		return false
	}
	cont := true
	n.WalkChildren(func(c *Node) bool {
		childPath := pathutil.Join(relPath, c.Item().Name)
		if !c.walkTree(childPath, visitor) {
			cont = false
			return false
		}
		return true
	})
	return cont
}

// TakeItem moves other's FileItem into n, used after a successful
// rename-replace: n survives under its existing name, but now serves
// other's content. Locks n and other in ascending ID order internally
// (the same min(id)-then-max(id) discipline MoveChild uses), so callers
// need not coordinate ordering themselves.
func (n *Node) TakeItem(other *Node) {
	first, second := n, other
	if other.id < n.id {
		first, second = other, n
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	name := n.item.Name
	item := other.item
	item.Name = name
	n.item = item
	n.virtualDirectory = other.virtualDirectory
}

// MoveChild detaches the child named oldName from n and reattaches it to
// newParent under newName, renaming it on the way if the names differ —
// the structural move behind a pure rename or a move, taken under spec.md
// §5's "lock min(id) then max(id) by node identity" ordering. n and
// newParent may be the same node (a same-directory rename).
func (n *Node) MoveChild(oldName string, newParent *Node, newName string) (*Node, error) {
	oldKey := pathutil.CaseFoldKey(oldName)
	newKey := pathutil.CaseFoldKey(newName)

	if n == newParent {
		n.mu.Lock()
		defer n.mu.Unlock()

		entry, ok := n.children[oldKey]
		if !ok {
			return nil, ErrNotExist
		}
		if oldKey != newKey {
			if _, collide := n.children[newKey]; collide {
				return nil, ErrAlreadyExists
			}
			delete(n.children, oldKey)
			n.children[newKey] = entry
			for i, k := range n.order {
				if k == oldKey {
					n.order[i] = newKey
					break
				}
			}
		}

		entry.node.mu.Lock()
		entry.node.item.Name = newName
		entry.node.nameLowerCase = newKey
		entry.node.mu.Unlock()
		return entry.node, nil
	}

	first, second := n, newParent
	if newParent.id < n.id {
		first, second = newParent, n
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	entry, ok := n.children[oldKey]
	if !ok {
		return nil, ErrNotExist
	}
	if _, collide := newParent.children[newKey]; collide {
		return nil, ErrAlreadyExists
	}

	delete(n.children, oldKey)
	for i, k := range n.order {
		if k == oldKey {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}

	child := entry.node
	child.mu.Lock()
	child.item.Name = newName
	child.nameLowerCase = newKey
	child.parent = newParent
	child.mu.Unlock()

	if newParent.children == nil {
		newParent.children = make(map[string]*childEntry)
	}
	newParent.children[newKey] = entry
	newParent.order = append(newParent.order, newKey)

	return child, nil
}

// SetName rekeys n's entry in its parent's child map. Must be called with
// the parent already write-locked by the caller (the dispatcher/rename
// handler establishes parent-before-child ordering per spec.md §5).
func (n *Node) SetName(newName string) {
	p := n.parent
	oldKey := pathutil.CaseFoldKey(n.Item().Name)
	newKey := pathutil.CaseFoldKey(newName)

	if p != nil {
		if entry, ok := p.children[oldKey]; ok {
			delete(p.children, oldKey)
			p.children[newKey] = entry
			for i, k := range p.order {
				if k == oldKey {
					p.order[i] = newKey
					break
				}
			}
		}
	}

	n.mu.Lock()
	n.item.Name = newName
	n.nameLowerCase = newKey
	n.mu.Unlock()
}

// CopyBasicAttributes copies attributes, timestamps, and size from other
// into n — never children.
func (n *Node) CopyBasicAttributes(other FileItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.item.Attributes = other.Attributes
	n.item.CreationTime = other.CreationTime
	n.item.LastAccessTime = other.LastAccessTime
	n.item.ModificationTime = other.ModificationTime
	n.item.FileSize = other.FileSize
}

// SetItem replaces the node's FileItem wholesale, Name included (used by
// GetInfo refreshes, the dispatcher and rename), and recomputes the cached
// fold key from item.Name. It does not rekey the parent's child map.
func (n *Node) SetItem(item FileItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.item = item
	n.nameLowerCase = pathutil.CaseFoldKey(item.Name)
}

// SetVirtualDirectory updates the backing layer tag under the node's write
// lock.
func (n *Node) SetVirtualDirectory(vdir string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.virtualDirectory = vdir
}

// Tree is the VDT: a root node plus the id-generator shared by every node
// created under it.
type Tree struct {
	root    *Node
	idSeq   atomic.Uint64
	builtAt int64 // UnixNano at Build; stamped there, not here
}

func (t *Tree) nextID() uint64 { return t.idSeq.Add(1) }

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// BuiltAt returns the UnixNano timestamp Build stamped this tree with, for
// callers deciding whether a mount is stale enough to warrant a rebuild.
func (t *Tree) BuiltAt() int64 { return t.builtAt }

// newTree constructs an empty tree with only its root node populated.
func newTree(rootItem FileItem) *Tree {
	t := &Tree{}
	t.root = &Node{
		id:       t.nextID(),
		tree:     t,
		item:     rootItem,
		children: make(map[string]*childEntry),
	}
	return t
}
