package convergefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kxvfs/convergefs/internal/mountsvc"
)

// mountOptions accumulates MountOption application before Mount builds the
// mountsvc.Config it describes.
type mountOptions struct {
	id            string
	mountPoint    string
	imageRef      string
	extraLayers   []string
	writeTarget   string
	ctx           context.Context
	asyncCapacity int
	asyncTimeout  time.Duration
	allowOther    bool
}

// MountOption configures one call to Service.Mount.
type MountOption func(*mountOptions)

// MountWithID sets the mount's registry id. If unset, Mount generates a
// random one.
func MountWithID(id string) MountOption {
	return func(o *mountOptions) { o.id = id }
}

// MountWithTargetPath sets the directory the overlay is mounted at. If
// unset, Mount allocates one under the Service's work directory.
func MountWithTargetPath(path string) MountOption {
	return func(o *mountOptions) { o.mountPoint = path }
}

// MountWithImageRef adds an OCI image as the mount's base (lowest-priority)
// layer: its reference is pulled and flattened via internal/ocilayer before
// the mount is built.
func MountWithImageRef(ref string) MountOption {
	return func(o *mountOptions) { o.imageRef = ref }
}

// MountWithExtraLayers adds plain-directory backing layers, ascending
// priority, stacked above the image layer (if any) and below the write
// target.
func MountWithExtraLayers(dirs []string) MountOption {
	return func(o *mountOptions) { o.extraLayers = dirs }
}

// MountWithWriteTarget sets the real directory every write lands in. If
// unset, Mount allocates one under the Service's work directory.
func MountWithWriteTarget(dir string) MountOption {
	return func(o *mountOptions) { o.writeTarget = dir }
}

// MountWithContext scopes the image pull (if any) to ctx.
func MountWithContext(ctx context.Context) MountOption {
	return func(o *mountOptions) { o.ctx = ctx }
}

// MountWithAsyncIO sets the async I/O engine's worker capacity and
// per-call timeout.
func MountWithAsyncIO(capacity int, timeout time.Duration) MountOption {
	return func(o *mountOptions) { o.asyncCapacity, o.asyncTimeout = capacity, timeout }
}

// MountWithAllowOther passes allow_other to the FUSE mount.
func MountWithAllowOther() MountOption {
	return func(o *mountOptions) { o.allowOther = true }
}

// Mount resolves opts into a mountsvc.Config, builds and starts serving the
// overlay, registers it under its id, and returns the running mount.
func (s *Service) Mount(opts ...MountOption) (*mountsvc.Mount, error) {
	o := &mountOptions{
		ctx:           context.Background(),
		asyncCapacity: 8,
		asyncTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.id == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		o.id = id.String()
	}

	if o.mountPoint == "" {
		p, err := s.newMountDir(o.id)
		if err != nil {
			return nil, err
		}
		o.mountPoint = p
	}
	o.mountPoint = filepath.Clean(o.mountPoint)
	if !filepath.IsAbs(o.mountPoint) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		o.mountPoint = filepath.Clean(filepath.Join(cwd, o.mountPoint))
	}

	if o.writeTarget == "" {
		p, err := s.newMountDir(o.id + "-write")
		if err != nil {
			return nil, err
		}
		o.writeTarget = p
	}

	layers := make([]string, 0, len(o.extraLayers)+1)
	if o.imageRef != "" {
		dir, err := s.store.Materialize(o.ctx, o.imageRef)
		if err != nil {
			return nil, fmt.Errorf("convergefs: materialize %s: %w", o.imageRef, err)
		}
		layers = append(layers, dir)
	}
	layers = append(layers, o.extraLayers...)

	m := mountsvc.New(mountsvc.Config{
		Layers:        layers,
		WriteTarget:   o.writeTarget,
		MountPoint:    o.mountPoint,
		AsyncCapacity: o.asyncCapacity,
		AsyncTimeout:  o.asyncTimeout,
		AllowOther:    o.allowOther,
	})
	if err := m.Mount(); err != nil {
		return nil, err
	}

	s.reg.Register(o.id, m)
	return m, nil
}

// Unmount unmounts and unregisters the mount with the given id.
func (s *Service) Unmount(ctx context.Context, id string) error {
	m, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("convergefs: no mount registered under id %q", id)
	}
	if err := m.Unmount(ctx); err != nil {
		return err
	}
	s.reg.Unregister(id)
	return nil
}

// Mounts lists the ids of currently registered mounts, in registration
// order.
func (s *Service) Mounts() []string {
	return s.reg.List()
}

func (s *Service) newMountDir(id string) (string, error) {
	path := filepath.Join(s.workDir, "mounts", id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
