package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_FormattingIsMasked(t *testing.T) {
	s := NewSecret("hunter2")

	assert.Equal(t, "********", s.String())
	assert.Equal(t, "********", fmt.Sprintf("%s", s))
	assert.Equal(t, "********", fmt.Sprintf("%v", s))
	assert.Equal(t, "********", fmt.Sprintf("%#v", s))
	assert.NotContains(t, fmt.Sprintf("%+v", s), "hunter2")

	assert.Equal(t, "hunter2", s.Reveal())
}

func TestSecret_IsZero(t *testing.T) {
	assert.True(t, Secret{}.IsZero())
	assert.False(t, NewSecret("x").IsZero())
}

func TestStore_EnvironmentLookup(t *testing.T) {
	t.Setenv("STACKD_CRED_DEPLOY_KEY", "env-material")

	store := NewStore("")
	s, err := store.Lookup("deploy-key")
	require.NoError(t, err)
	assert.Equal(t, "env-material", s.Reveal())
}

func TestStore_FileLookup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry-pass"), []byte("file-material\n"), 0600))

	store := NewStore(dir)
	s, err := store.Lookup("registry-pass")
	require.NoError(t, err)
	assert.Equal(t, "file-material", s.Reveal())
}

func TestStore_EnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k"), []byte("from-file"), 0600))
	t.Setenv("STACKD_CRED_K", "from-env")

	store := NewStore(dir)
	s, err := store.Lookup("k")
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Reveal())
}

func TestStore_MissingCredential(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Lookup("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope" not found`)
}

func TestStore_EmptyIdentifier(t *testing.T) {
	store := NewStore("")
	_, err := store.Lookup("")
	require.Error(t, err)
}
