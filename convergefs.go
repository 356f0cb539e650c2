// Package convergefs mounts a Windows-style overlay filesystem backed by
// one or more ordered layers — plain directories and/or OCI image
// references — over a single writable target, the way the teacher's
// ocifs.go wires its image store and union filesystem together.
package convergefs

import (
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/kxvfs/convergefs/internal/ocilayer"
	"github.com/kxvfs/convergefs/internal/registry"
)

// Option configures a Service at construction time.
type Option func(*Service)

// WithWorkDir sets the directory the Service caches pulled OCI layers and
// allocates default mount points under. Defaults to
// os.TempDir()/convergefs.
func WithWorkDir(workDir string) Option {
	return func(s *Service) {
		s.workDir = filepath.Clean(workDir)
	}
}

// WithAuthSource registers registry credentials for any reference whose
// string form starts with prefix (e.g. a registry hostname).
func WithAuthSource(prefix string, auth authn.AuthConfig) Option {
	return func(s *Service) {
		s.authn.creds[prefix] = auth
	}
}

// WithEnableDefaultKeychain falls back to go-containerregistry's default
// keychain (docker config, ambient cloud credentials) for any reference
// not matched by an explicit WithAuthSource prefix.
func WithEnableDefaultKeychain() Option {
	return func(s *Service) {
		s.authn.includeDefaultKeychain = true
	}
}

// Service is the process-wide handle for mounting overlays: it owns the
// OCI layer cache and the mount registry. Construct one per process.
type Service struct {
	workDir string
	authn   *keychain
	store   *ocilayer.Store
	reg     *registry.Registry
}

// New constructs a Service, applying opts over the defaults.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		workDir: filepath.Join(os.TempDir(), "convergefs"),
		authn:   &keychain{creds: make(map[string]authn.AuthConfig)},
	}
	for _, opt := range opts {
		opt(s)
	}

	store, err := ocilayer.NewStore(filepath.Join(s.workDir, "oci"), s.authn, ocilayer.PullIfNotPresent)
	if err != nil {
		return nil, err
	}
	s.store = store

	reg, err := registry.New()
	if err != nil {
		return nil, err
	}
	s.reg = reg

	return s, nil
}
