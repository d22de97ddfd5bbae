package collab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	token string
	err   error
}

func (f *fakeStore) Lookup(context.Context, string) (string, error) {
	return f.token, f.err
}

func newEnvProvider(env map[string]string) *ChainTokenProvider {
	p := NewChainTokenProvider(nil, "taskloop", "")
	p.lookupEnv = func(key string) string { return env[key] }
	return p
}

func TestToken_FromEnvironment(t *testing.T) {
	t.Parallel()

	p := newEnvProvider(map[string]string{"TASKLOOP_OAUTH_TOKEN": "tok-123"})
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestToken_FromCredentialStore(t *testing.T) {
	t.Parallel()

	p := NewChainTokenProvider(&fakeStore{token: "store-tok"}, "taskloop", "")
	p.lookupEnv = func(string) string { return "" }

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "store-tok", token)
}

func TestToken_StoreErrorFallsThroughToFile(t *testing.T) {
	t.Parallel()

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "token"), []byte("file-tok\n"), 0o600))

	p := NewChainTokenProvider(&fakeStore{err: errors.New("keychain locked")}, "taskloop", configDir)
	p.lookupEnv = func(string) string { return "" }

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-tok", token)
}

func TestToken_NoSourceYieldsRemediation(t *testing.T) {
	t.Parallel()

	p := newEnvProvider(nil)
	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auth token found")
}

func TestToken_EncryptedTokenRejected(t *testing.T) {
	t.Parallel()

	p := newEnvProvider(map[string]string{"TASKLOOP_OAUTH_TOKEN": "v10\x01\x02ciphertext"})
	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encrypted")
	assert.Contains(t, err.Error(), "environment (TASKLOOP_OAUTH_TOKEN)")
}

func TestIsEncryptedToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"plain bearer", "sk-ant-abc123", false},
		{"keystore v10 blob", "v10binaryblob", true},
		{"keystore v11 blob", "v11binaryblob", true},
		{"explicit encrypted prefix", "encrypted:abcdef", true},
		{"control bytes", "tok\x00en", true},
		{"versioned plain token", "v10.4-release-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsEncryptedToken(tt.token))
		})
	}
}

func TestSources_Order(t *testing.T) {
	t.Parallel()

	p := NewChainTokenProvider(nil, "taskloop", "")
	assert.Equal(t, []string{SourceEnvironment, SourceCredentialStore, SourceConfigFile}, p.Sources())
}
