package convergefs

import (
	"testing"
	"time"
)

func TestMountOptionsApply(t *testing.T) {
	o := &mountOptions{}
	opts := []MountOption{
		MountWithID("abc"),
		MountWithTargetPath("/mnt/x"),
		MountWithImageRef("example.com/img:latest"),
		MountWithExtraLayers([]string{"/a", "/b"}),
		MountWithWriteTarget("/write"),
		MountWithAsyncIO(4, 2*time.Second),
		MountWithAllowOther(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.id != "abc" || o.mountPoint != "/mnt/x" || o.imageRef != "example.com/img:latest" {
		t.Fatalf("unexpected options after apply: %+v", o)
	}
	if len(o.extraLayers) != 2 || o.extraLayers[0] != "/a" || o.extraLayers[1] != "/b" {
		t.Fatalf("unexpected extraLayers: %v", o.extraLayers)
	}
	if o.writeTarget != "/write" {
		t.Fatalf("unexpected writeTarget: %q", o.writeTarget)
	}
	if o.asyncCapacity != 4 || o.asyncTimeout != 2*time.Second {
		t.Fatalf("unexpected async settings: %d %v", o.asyncCapacity, o.asyncTimeout)
	}
	if !o.allowOther {
		t.Fatal("expected allowOther set")
	}
}
