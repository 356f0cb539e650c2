package ocilayer

import (
	"archive/tar"
	"encoding/json"
	"os"
	"path/filepath"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// File is one tar entry from a layer, with Path pointing at its
// content-addressed blob on disk when it's a regular file (empty for
// directories, symlinks, and other non-regular entries).
type File struct {
	Hdr  *tar.Header
	Path string
}

// Layer is one unpacked OCI layer's file index, persisted to its own JSON
// sidecar next to the blob directory so a re-mount never re-extracts a
// layer it already has.
type Layer struct {
	hash  v1.Hash
	path  string
	files []*File
}

func (l *Layer) Hash() v1.Hash { return l.hash }
func (l *Layer) Files() []*File { return l.files }

type layerMetadata struct {
	Files []*File
}

// Load reads a previously persisted layer index from its sidecar file.
func (l *Layer) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	meta := &layerMetadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return err
	}
	l.files = meta.Files
	return nil
}

// Persist writes the layer index to its sidecar file.
func (l *Layer) Persist() error {
	meta := &layerMetadata{Files: l.files}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

func layerSidecarPath(blobsDir string, h v1.Hash) string {
	return filepath.Join(blobsDir, "layers", h.Algorithm, h.Hex+".json")
}
