// Package pathutil implements the path conventions the virtual directory
// tree uses: Windows-style, backslash-separated, case-insensitive names over
// a POSIX backing store.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Separator is the path separator used by requests arriving from the bridge.
const Separator = `\`

// Normalize converts a bridge-supplied path into the canonical form used as
// a VDT lookup key: backslashes, single leading separator, no trailing
// separator (except for the root itself), "." and ".." segments collapsed.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "/", Separator)
	segs := strings.Split(p, Separator)
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return Separator + strings.Join(out, Separator)
}

// Split returns the parent path and the final path segment of p. Split of
// the root returns ("", "").
func Split(p string) (dir, base string) {
	p = Normalize(p)
	if p == Separator {
		return "", ""
	}
	i := strings.LastIndex(p, Separator)
	if i <= 0 {
		return Separator, p[i+1:]
	}
	return p[:i], p[i+1:]
}

// Join joins path segments using the bridge's separator, normalizing the
// result.
func Join(parts ...string) string {
	return Normalize(strings.Join(parts, Separator))
}

// Segments splits a normalized path into its non-empty components.
func Segments(p string) []string {
	p = Normalize(p)
	if p == Separator {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, Separator), Separator)
}

// EqualFold reports whether a and b name the same entry under the overlay's
// case-insensitive comparison rule.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// CaseFoldKey returns the key used to index a node's child map. Folding to
// a single case keeps map lookups O(1) while preserving the original
// spelling in the FileItem itself.
func CaseFoldKey(name string) string {
	return strings.ToLower(name)
}

// LongPathPrefix returns p unchanged. The backing store here is always
// POSIX, which has no MAX_PATH limitation and therefore no long-path
// namespace prefix; the function exists so dispatcher code has one named
// call site to retarget if a Windows-native backing store is ever added.
func LongPathPrefix(p string) string {
	return p
}

// IsRoot reports whether p names the VDT root.
func IsRoot(p string) bool {
	return Normalize(p) == Separator
}

// ToReal turns a normalized virtual path into a "/"-joined relative path
// suitable for joining onto a real backing-layer directory.
func ToReal(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return strings.Join(segs, "/")
}

// RealDir joins a backing layer's real root directory with a VDT-relative
// directory path (as returned by Node.RelativePath), using OS-native
// separators.
func RealDir(layerRoot, relPath string) string {
	if IsRoot(relPath) {
		return layerRoot
	}
	segs := Segments(relPath)
	return filepath.Join(append([]string{layerRoot}, segs...)...)
}
