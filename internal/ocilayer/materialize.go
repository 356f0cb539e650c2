package ocilayer

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
)

// Materialize pulls imageRef (per the store's PullPolicy), flattens its
// layers, and projects the result onto disk under the store's materialized
// directory, returning that directory's path. The projection is rebuilt
// from scratch on every call and is cheap to redo: it's entirely
// directories and symlinks into the already-deduped blob store, never a
// copy of file content.
func (s *Store) Materialize(ctx context.Context, imageRef string) (string, error) {
	img, err := s.Image(ctx, imageRef)
	if err != nil {
		return "", err
	}
	dir := s.MaterializedDir(img.Hash())
	if err := s.project(img, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// project writes img's unified file list into dir as a real directory
// tree: a directory for every TypeDir entry, a symlink to the blob store
// for every regular file.
func (s *Store) project(img *Image, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, f := range img.Unify() {
		target := filepath.Join(dir, filepath.Clean(f.Hdr.Name))
		switch f.Hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, modeOf(f.Hdr)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if f.Path == "" {
				continue
			}
			if err := os.Symlink(f.Path, target); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(f.Hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		default:
			// hardlinks, devices, fifos: out of scope for the virtual folder
			// projection, the way the teacher's own unpacker only logs and
			// skips them.
		}
	}
	return nil
}

func modeOf(hdr *tar.Header) os.FileMode {
	if hdr.Mode == 0 {
		return 0o755
	}
	return os.FileMode(hdr.Mode) & os.ModePerm
}
