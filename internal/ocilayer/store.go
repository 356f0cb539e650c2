// Package ocilayer materializes an OCI image reference into a real,
// read-only directory (spec.md's OCI-backed virtual folder, C10) suitable
// for use as one of the VDT's ordered backing layers: it pulls and unpacks
// the image the way the teacher's internal/store does, flattens the
// layers with Image.Unify, and projects the result onto disk as a tree of
// symlinks into a content-addressed blob store.
package ocilayer

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// PullPolicy controls when Store consults the remote registry.
type PullPolicy int

const (
	PullIfNotPresent PullPolicy = iota
	PullAlways
	PullNever
)

func (p PullPolicy) String() string {
	switch p {
	case PullIfNotPresent:
		return "IfNotPresent"
	case PullAlways:
		return "Always"
	case PullNever:
		return "Never"
	default:
		return "Unknown"
	}
}

// Store holds pulled images, their unpacked layer indexes, and the
// content-addressed blobs those indexes point at, all rooted at one
// working directory.
type Store struct {
	path       string
	auth       authn.Keychain
	pullPolicy PullPolicy
	refs       referenceStore
	lp         layout.Path
}

// NewStore opens (creating if necessary) an OCI blob store at path.
func NewStore(path string, auth authn.Keychain, pullPolicy PullPolicy) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	for _, dir := range []string{"refs", "blobs/sha256", "oci", "materialized"} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, err
		}
	}

	ociDir := filepath.Join(path, "oci")
	idxFilePath := filepath.Join(ociDir, "index.json")
	if _, err := os.Stat(idxFilePath); os.IsNotExist(err) {
		if err := os.WriteFile(idxFilePath, []byte("{}"), 0o644); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &Store{
		path:       path,
		auth:       auth,
		pullPolicy: pullPolicy,
		refs:       referenceStore(filepath.Join(path, "refs")),
		lp:         layout.Path(ociDir),
	}, nil
}

// MaterializedDir returns where Materialize projects the flattened
// filesystem of the image with hash h, without pulling or rebuilding it.
func (s *Store) MaterializedDir(h v1.Hash) string {
	return filepath.Join(s.path, "materialized", h.Algorithm, h.Hex)
}

// Image resolves imageRef (pulling per s.pullPolicy) and returns its
// unpacked layer indexes, base layer first.
func (s *Store) Image(ctx context.Context, imageRef string) (*Image, error) {
	h, err := s.pullImage(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	return s.getImage(h)
}

func (s *Store) getImage(h v1.Hash) (*Image, error) {
	img, err := s.lp.Image(h)
	if err != nil {
		return nil, err
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}

	outLayers := make([]*Layer, len(layers))
	for i, layer := range layers {
		lh, err := layer.Digest()
		if err != nil {
			return nil, err
		}
		outLayer := &Layer{hash: lh, path: layerSidecarPath(filepath.Join(s.path, "blobs"), lh)}
		if err := outLayer.Load(); err != nil {
			return nil, err
		}
		outLayers[i] = outLayer
	}

	conf, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	return &Image{h: h, img: img, layers: outLayers, conf: conf}, nil
}

func (s *Store) pullImage(ctx context.Context, imageRef string) (v1.Hash, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return emptyHash, err
	}

	h, refFound, err := s.refs.Get(ref)
	if err != nil {
		return emptyHash, err
	}

	if !refFound && s.pullPolicy == PullNever {
		return emptyHash, fmt.Errorf("ocilayer: image %s not cached and pull policy is Never", imageRef)
	}

	if refFound {
		if s.pullPolicy == PullIfNotPresent {
			return h, nil
		}
		desc, err := remote.Head(ref, remote.WithAuthFromKeychain(s.auth))
		if err != nil {
			return emptyHash, err
		}
		if desc.Digest == h {
			return h, nil
		}
	}

	slog.Info("ocilayer: pulling image", "ref", imageRef)
	rmtImg, err := remote.Image(ref, remote.WithAuthFromKeychain(s.auth))
	if err != nil {
		return emptyHash, err
	}
	if err := s.lp.AppendImage(rmtImg); err != nil {
		return emptyHash, err
	}

	h, err = rmtImg.Digest()
	if err != nil {
		return emptyHash, err
	}

	img, err := s.lp.Image(h)
	if err != nil {
		return emptyHash, err
	}
	layers, err := img.Layers()
	if err != nil {
		return emptyHash, err
	}
	for _, layer := range layers {
		if err := s.unpackLayer(ctx, layer); err != nil {
			return emptyHash, err
		}
	}

	if err := s.refs.Put(ref, h); err != nil {
		return emptyHash, err
	}
	return h, nil
}

func (s *Store) unpackLayer(ctx context.Context, layer v1.Layer) error {
	h, err := layer.Digest()
	if err != nil {
		return err
	}
	sidecar := layerSidecarPath(filepath.Join(s.path, "blobs"), h)
	if _, err := os.Stat(sidecar); err == nil {
		return nil // already unpacked under this digest
	} else if !os.IsNotExist(err) {
		return err
	}

	rc, err := layer.Uncompressed()
	if err != nil {
		return err
	}
	defer rc.Close()

	files, err := s.extractTar(ctx, rc)
	if err != nil {
		return err
	}

	l := &Layer{hash: h, path: sidecar, files: files}
	return l.Persist()
}

func (s *Store) extractTar(ctx context.Context, rc io.ReadCloser) ([]*File, error) {
	tr := tar.NewReader(rc)
	ret := []*File{}
	buf := make([]byte, 256*1024)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		hdrCopy := *hdr
		outFile := &File{Hdr: &hdrCopy}
		ret = append(ret, outFile)

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		blobPath, err := s.storeBlob(tr, buf)
		if err != nil {
			return nil, err
		}
		outFile.Path = blobPath
	}

	return ret, nil
}

// storeBlob streams r into the content-addressed blob directory, deduping
// on sha256 so two layers sharing a file only ever hold one copy on disk.
func (s *Store) storeBlob(r io.Reader, buf []byte) (string, error) {
	blobsDir := filepath.Join(s.path, "blobs", "sha256")
	tf, err := os.CreateTemp(blobsDir, "blob-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tf.Name())
	defer tf.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(tf, hasher)
	if _, err := io.CopyBuffer(mw, r, buf); err != nil {
		return "", err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	blobPath := filepath.Join(blobsDir, digest)

	if _, err := os.Stat(blobPath); err == nil {
		return blobPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if err := tf.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tf.Name(), blobPath); err != nil {
		return "", err
	}
	return blobPath, nil
}
