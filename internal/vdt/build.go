package vdt

import (
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kxvfs/convergefs/internal/pathutil"
)

// layerNode is a throwaway per-layer tree node used only during Build; it
// holds plain FileItem snapshots, not locks, since each per-layer tree is
// built and consumed by a single goroutine.
type layerNode struct {
	name     string
	item     FileItem
	children map[string]*layerNode
	order    []string
}

// Build walks the backing layers in priority order (ascending — later
// entries shadow earlier ones) plus the write target, and produces a
// populated VDT root honoring shadowing, per spec.md §4.1.
//
// layers is L = [V1, ..., Vn] in ascending priority; writeTarget is pushed
// to the end of the conceptual layer list for the duration of the build
// (so files already present there are visible) and then popped — the
// caller-visible VirtualFolder list excludes it.
func Build(layers []string, writeTarget string) (*Tree, error) {
	all := make([]string, 0, len(layers)+1)
	all = append(all, layers...)
	all = append(all, writeTarget)

	perLayer := make([]*layerNode, len(all))
	g := new(errgroup.Group)
	for i, root := range all {
		i, root := i, root
		g.Go(func() error {
			ln, err := buildLayerTree(root)
			if err != nil {
				if os.IsNotExist(err) {
					perLayer[i] = &layerNode{children: map[string]*layerNode{}}
					return nil
				}
				return err
			}
			perLayer[i] = ln
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rootItem := FileItem{
		Attributes: AttrDirectory,
		Source:     writeTarget,
	}
	if fi, err := os.Stat(writeTarget); err == nil {
		rootItem.ModificationTime = fi.ModTime()
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			rootItem.CreationTime = statCtime(st)
			rootItem.LastAccessTime = statAtime(st)
		}
	} else {
		now := time.Now()
		rootItem.CreationTime, rootItem.LastAccessTime, rootItem.ModificationTime = now, now, now
	}

	tree := newTree(rootItem)
	tree.builtAt = time.Now().UnixNano()

	// Reverse priority order: highest-priority layer (the write target,
	// appended last above) is visited first so first-seen-wins shadowing
	// gives it precedence.
	reversed := make([]*layerNode, len(perLayer))
	reversedRoots := make([]string, len(all))
	for i := range perLayer {
		reversed[i] = perLayer[len(perLayer)-1-i]
		reversedRoots[i] = all[len(all)-1-i]
	}

	mergeLevel(tree.root, reversed, reversedRoots)

	return tree, nil
}

// mergeLevel implements one level of spec.md §4.1 step 3: for the current
// output parent, walk each layer's corresponding subtree in reverse
// priority order, and for every child name not yet seen at this level,
// clone its FileItem into a new output node tagged with that layer's root
// path; directories are pushed for recursive descent.
func mergeLevel(outParent *Node, layerNodes []*layerNode, layerRoots []string) {
	seen := make(map[string]bool)
	for li, ln := range layerNodes {
		if ln == nil {
			continue
		}
		for _, key := range ln.order {
			if seen[key] {
				continue
			}
			child := ln.children[key]
			seen[key] = true

			item := child.item
			item.Source = parentRealDir(layerRoots[li], outParent)
			outChild, err := outParent.AddChild(item, layerRoots[li])
			if err != nil {
				// Concurrent builds never race here (Build is
				// single-threaded past the fan-out stage); a collision
				// means the bookkeeping above is wrong. Skip rather than
				// panic so a single bad entry doesn't abort the mount.
				continue
			}

			if item.IsDir() {
				childLayerNodes := make([]*layerNode, len(layerNodes))
				for j, ln2 := range layerNodes {
					if ln2 == nil {
						continue
					}
					childLayerNodes[j] = ln2.children[key]
				}
				mergeLevel(outChild, childLayerNodes, layerRoots)
			}
		}
	}
}

// parentRealDir returns the real directory (within the given layer root)
// that should be recorded as the new child's Source: the layer root joined
// with the output parent's relative path.
func parentRealDir(layerRoot string, outParent *Node) string {
	return pathutil.RealDir(layerRoot, outParent.RelativePath())
}

func buildLayerTree(dirPath string) (*layerNode, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	ln := &layerNode{children: make(map[string]*layerNode, len(entries))}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		childPath := filepath.Join(dirPath, e.Name())
		item := ItemFromInfo(e.Name(), dirPath, info)
		child := &layerNode{name: e.Name(), item: item}

		if info.IsDir() {
			sub, err := buildLayerTree(childPath)
			if err == nil {
				child.children = sub.children
				child.order = sub.order
			} else {
				child.children = map[string]*layerNode{}
			}
		}

		key := pathutil.CaseFoldKey(e.Name())
		ln.children[key] = child
		ln.order = append(ln.order, key)
	}
	return ln, nil
}

// ItemFromInfo derives a FileItem from an os.FileInfo, translating mode bits
// and dotfile convention into the Windows-style Attr bitset. Exported so
// dispatcher can build FileItem values for freshly created entries using the
// same rules the initial VDT build uses.
func ItemFromInfo(name, dir string, info os.FileInfo) FileItem {
	item := FileItem{
		Name:             name,
		FileSize:         info.Size(),
		ModificationTime: info.ModTime(),
		Source:           dir,
	}
	if info.IsDir() {
		item.Attributes |= AttrDirectory
	} else {
		item.Attributes |= AttrNormal
	}
	if len(name) > 0 && name[0] == '.' {
		item.Attributes |= AttrHidden
	}
	if info.Mode()&0200 == 0 {
		item.Attributes |= AttrReadonly
	}
	if info.Mode()&os.ModeSymlink != 0 {
		item.Attributes |= AttrReparsePoint
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		item.CreationTime = statCtime(st)
		item.LastAccessTime = statAtime(st)
	} else {
		item.CreationTime = info.ModTime()
		item.LastAccessTime = info.ModTime()
	}
	return item
}
