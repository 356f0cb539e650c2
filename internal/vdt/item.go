// Package vdt implements the virtual directory tree: the in-memory index
// that reflects the merged view of an ordered stack of real backing
// directories, and the builder that constructs it honoring shadowing.
package vdt

import (
	"path/filepath"
	"time"

	"github.com/kxvfs/convergefs/internal/pathutil"
)

// Attr is the directory-entry attribute bitset, modeled on the Windows
// FILE_ATTRIBUTE_* constants the dispatcher reasons about.
type Attr uint32

const (
	AttrReadonly     Attr = 1 << 0
	AttrHidden       Attr = 1 << 1
	AttrSystem       Attr = 1 << 2
	AttrDirectory    Attr = 1 << 4
	AttrNormal       Attr = 1 << 7
	AttrReparsePoint Attr = 1 << 10
	AttrInvalid      Attr = 0xFFFFFFFF
)

func (a Attr) Has(bit Attr) bool { return a&bit != 0 }

// FileItem is a directory-entry snapshot: the value object a FileNode owns
// and that the builder clones out of a backing layer's real directory
// listing.
type FileItem struct {
	Name             string
	ShortName        string
	Attributes       Attr
	CreationTime     time.Time
	LastAccessTime   time.Time
	ModificationTime time.Time
	// FileSize is -1 when unknown. Items built by ItemFromInfo, including
	// freshly created directories, carry the size their stat reported.
	FileSize int64
	// Source is the absolute real-filesystem path of the directory that
	// contains this entry (one of the configured virtual folders, or the
	// write target).
	Source string
}

// IsDir reports whether the item denotes a directory.
func (fi FileItem) IsDir() bool { return fi.Attributes.Has(AttrDirectory) }

// FullPath returns the item's absolute real path: Source + separator + Name.
func (fi FileItem) FullPath() string {
	if fi.Name == "" {
		return fi.Source
	}
	return filepath.Join(fi.Source, fi.Name)
}

// FullPathWithPrefix is the long-path-prefixed form used for OS API calls.
func (fi FileItem) FullPathWithPrefix() string {
	return pathutil.LongPathPrefix(fi.FullPath())
}
