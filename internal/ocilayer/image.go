package ocilayer

import (
	"archive/tar"
	"path/filepath"
	"sort"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

const (
	whiteoutPrefix = ".wh."
	whiteoutOpaque = whiteoutPrefix + whiteoutPrefix + "opq"
)

// Image is a pulled OCI image's metadata plus its per-layer file indexes,
// base layer first.
type Image struct {
	h      v1.Hash
	img    v1.Image
	conf   *v1.ConfigFile
	layers []*Layer
}

func (i *Image) Hash() v1.Hash           { return i.h }
func (i *Image) ConfigFile() *v1.ConfigFile { return i.conf }
func (i *Image) Layers() []*Layer        { return i.layers }

// Unify flattens the image's layers, base to top, into a single ordered
// list of files representing the final filesystem view: later layers
// shadow earlier ones, standard whiteouts (.wh.<name>) delete a path, and
// opaque whiteouts (.wh..wh..opq) hide an entire directory's contents from
// every layer below the one that set the marker.
func (i *Image) Unify() []*File {
	// fileMap[path] == true means the path is finalized: a regular file, or
	// a tombstone. Nothing from a lower layer may touch it again.
	// fileMap[path] == false means path is a directory still open to
	// contributions from lower layers.
	fileMap := map[string]bool{}
	opaqueDirs := map[string]bool{}

	layers := i.Layers()
	out := []*File{}

	for idx := len(layers) - 1; idx >= 0; idx-- {
		layer := layers[idx]
		newOpaqueDirs := map[string]bool{}

		for _, file := range layer.Files() {
			header := file.Hdr
			header.Name = filepath.Clean(header.Name)

			baseName := filepath.Base(header.Name)
			dirName := filepath.Dir(header.Name)

			if baseName == whiteoutOpaque {
				newOpaqueDirs[dirName] = true
				continue
			}

			isTombstone := strings.HasPrefix(baseName, whiteoutPrefix)
			if isTombstone {
				baseName = baseName[len(whiteoutPrefix):]
			}

			var finalPath string
			if header.Typeflag == tar.TypeDir {
				finalPath = header.Name
			} else {
				finalPath = filepath.Join(dirName, baseName)
			}

			if _, exists := fileMap[finalPath]; exists {
				continue
			}
			if isFinalized(fileMap, finalPath) || inOpaqueDir(opaqueDirs, finalPath) {
				continue
			}

			fileMap[finalPath] = isTombstone || (header.Typeflag != tar.TypeDir)
			if !isTombstone {
				out = append(out, file)
			}
		}

		for dir := range newOpaqueDirs {
			opaqueDirs[dir] = true
		}
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].Hdr.Name < out[b].Hdr.Name
	})

	return out
}

func isFinalized(fileMap map[string]bool, path string) bool {
	for path != "" && path != "." && path != "/" {
		parent := filepath.Dir(path)
		if path == parent {
			break
		}
		if isFinal, exists := fileMap[parent]; exists && isFinal {
			return true
		}
		path = parent
	}
	return false
}

func inOpaqueDir(opaqueDirs map[string]bool, path string) bool {
	for path != "" && path != "." && path != "/" {
		parent := filepath.Dir(path)
		if path == parent {
			break
		}
		if opaqueDirs[parent] {
			return true
		}
		path = parent
	}
	return false
}
