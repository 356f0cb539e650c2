package convergefs

import (
	"log/slog"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
)

// keychain resolves registry credentials for OCI-backed layer sources
// (SPEC_FULL.md C10): a prefix-matched override table, falling back to the
// default keychain (docker config, ambient cloud credentials) only if
// explicitly enabled.
type keychain struct {
	creds                  map[string]authn.AuthConfig
	includeDefaultKeychain bool
}

// Resolve looks up the most appropriate credential for the specified target.
func (k *keychain) Resolve(res authn.Resource) (authn.Authenticator, error) {
	slog.Debug("resolving registry creds", "resource", res.String())
	for prefix, cfg := range k.creds {
		if strings.HasPrefix(res.String(), prefix) {
			slog.Debug("found creds for prefix", "prefix", prefix)
			return authn.FromConfig(cfg), nil
		}
	}
	if k.includeDefaultKeychain {
		return authn.DefaultKeychain.Resolve(res)
	}
	return authn.Anonymous, nil
}
