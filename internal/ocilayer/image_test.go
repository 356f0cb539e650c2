package ocilayer

import (
	"archive/tar"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

func mkLayer(label string, entries ...*File) *Layer {
	return &Layer{hash: v1.Hash{Algorithm: "sha256", Hex: label}, files: entries}
}

func file(name string, typ byte) *File {
	return &File{Hdr: &tar.Header{Name: name, Typeflag: typ}}
}

func TestUnifyLaterLayerShadowsEarlier(t *testing.T) {
	base := mkLayer("base", file("a.txt", tar.TypeReg))
	top := mkLayer("top", file("a.txt", tar.TypeReg))
	img := &Image{layers: []*Layer{base, top}}

	out := img.Unify()
	if len(out) != 1 {
		t.Fatalf("expected exactly one a.txt to survive, got %d", len(out))
	}
	if out[0].Hdr.Name != "a.txt" {
		t.Fatalf("unexpected survivor %q", out[0].Hdr.Name)
	}
}

func TestUnifyWhiteoutDeletesPath(t *testing.T) {
	base := mkLayer("base", file("dir/a.txt", tar.TypeReg), file("dir", tar.TypeDir))
	top := mkLayer("top", file("dir/.wh.a.txt", tar.TypeReg))
	img := &Image{layers: []*Layer{base, top}}

	out := img.Unify()
	for _, f := range out {
		if f.Hdr.Name == "dir/a.txt" {
			t.Fatal("expected dir/a.txt removed by whiteout")
		}
	}
}

func TestUnifyOpaqueWhiteoutHidesLowerContents(t *testing.T) {
	base := mkLayer("base",
		file("dir", tar.TypeDir),
		file("dir/old.txt", tar.TypeReg),
	)
	top := mkLayer("top",
		file("dir", tar.TypeDir),
		file("dir/.wh..wh..opq", tar.TypeReg),
		file("dir/new.txt", tar.TypeReg),
	)
	img := &Image{layers: []*Layer{base, top}}

	out := img.Unify()
	names := map[string]bool{}
	for _, f := range out {
		names[f.Hdr.Name] = true
	}
	if names["dir/old.txt"] {
		t.Fatal("expected dir/old.txt hidden by opaque whiteout")
	}
	if !names["dir/new.txt"] {
		t.Fatal("expected dir/new.txt from the layer that set the opaque marker")
	}
}

func TestUnifyDeletedDirBlocksLowerFilesInside(t *testing.T) {
	base := mkLayer("base", file("dir", tar.TypeDir), file("dir/a.txt", tar.TypeReg))
	top := mkLayer("top", file(".wh.dir", tar.TypeReg))
	img := &Image{layers: []*Layer{base, top}}

	for _, f := range img.Unify() {
		if f.Hdr.Name == "dir" || f.Hdr.Name == "dir/a.txt" {
			t.Fatalf("expected %q excluded once its directory is whited out", f.Hdr.Name)
		}
	}
}
