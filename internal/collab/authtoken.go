package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskloop-dev/taskloop/internal/errors"
)

// Token source names, in the order ChainTokenProvider consults them.
const (
	SourceEnvironment     = "environment"
	SourceCredentialStore = "credential-store"
	SourceConfigFile      = "config-file"
)

// envTokenVars are checked in order by the environment source.
var envTokenVars = []string{"TASKLOOP_OAUTH_TOKEN", "CLAUDE_CODE_OAUTH_TOKEN", "ANTHROPIC_API_KEY"}

// credentialStoreTimeout bounds each credential-store lookup.
const credentialStoreTimeout = 5 * time.Second

// CredentialStore abstracts the per-platform secret store (Keychain on
// macOS, Secret Service on Linux). Lookups are expected to be fast;
// ChainTokenProvider bounds each one with credentialStoreTimeout.
type CredentialStore interface {
	Lookup(ctx context.Context, service string) (string, error)
}

// ChainTokenProvider implements AuthTokenProvider by consulting, in order:
// environment variables, the platform credential store, and a token file in
// the user's config directory.
type ChainTokenProvider struct {
	// Store is the optional platform credential store.
	Store CredentialStore
	// ServiceName is the credential-store entry to look up.
	ServiceName string
	// ConfigDir is the directory holding the fallback token file.
	ConfigDir string

	lookupEnv func(string) string
}

// NewChainTokenProvider builds a provider with the default lookup chain.
func NewChainTokenProvider(store CredentialStore, serviceName, configDir string) *ChainTokenProvider {
	return &ChainTokenProvider{
		Store:       store,
		ServiceName: serviceName,
		ConfigDir:   configDir,
		lookupEnv:   os.Getenv,
	}
}

// Sources lists the lookup chain for diagnostics.
func (p *ChainTokenProvider) Sources() []string {
	return []string{SourceEnvironment, SourceCredentialStore, SourceConfigFile}
}

// Token walks the source chain and returns the first usable token. An
// obviously-encrypted blob is rejected outright with guidance on
// re-authenticating, rather than passed along to fail opaquely later.
func (p *ChainTokenProvider) Token(ctx context.Context) (string, error) {
	for _, name := range envTokenVars {
		if v := strings.TrimSpace(p.lookupEnv(name)); v != "" {
			return p.vet(v, SourceEnvironment+" ("+name+")")
		}
	}

	if p.Store != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, credentialStoreTimeout)
		v, err := p.Store.Lookup(lookupCtx, p.ServiceName)
		cancel()
		if err == nil {
			if v = strings.TrimSpace(v); v != "" {
				return p.vet(v, SourceCredentialStore)
			}
		}
	}

	if p.ConfigDir != "" {
		path := filepath.Join(p.ConfigDir, "token")
		if data, err := os.ReadFile(path); err == nil {
			if v := strings.TrimSpace(string(data)); v != "" {
				return p.vet(v, SourceConfigFile+" ("+path+")")
			}
		}
	}

	return "", errors.NewPrerequisiteError(
		"no auth token found in any source",
		"Set TASKLOOP_OAUTH_TOKEN in the environment",
		"Or re-authenticate with your provider's login command",
	)
}

func (p *ChainTokenProvider) vet(token, source string) (string, error) {
	if IsEncryptedToken(token) {
		return "", errors.NewPrerequisiteError(
			fmt.Sprintf("token from %s appears to be encrypted and cannot be used directly", source),
			"Re-authenticate with your provider's login command to store a plain token",
			"Or export a valid token via TASKLOOP_OAUTH_TOKEN",
		)
	}
	return token, nil
}

// IsEncryptedToken reports whether a credential blob is obviously encrypted
// rather than a usable bearer token: OS-keystore ciphertext prefixes, or
// non-printable bytes.
func IsEncryptedToken(token string) bool {
	for _, prefix := range []string{"v10", "v11", "encrypted:"} {
		if strings.HasPrefix(token, prefix) && !strings.HasPrefix(token, "v10.") {
			return true
		}
	}
	for _, r := range token {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
