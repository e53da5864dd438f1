package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	h, err := Load(home)
	require.NoError(t, err)
	assert.Nil(t, h, "missing file is not an error")

	require.NoError(t, Save(home, Human{Name: "Ada", Email: "ada@example.com"}))
	h, err = Load(home)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Ada", h.Name)
	assert.Equal(t, "file", h.Source)
}

func TestLoad_badYAML(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "identity.yaml"), []byte("name: [unclosed"), 0o644))
	_, err := Load(home)
	assert.Error(t, err)
}

func TestResolve_prefersFile(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	require.NoError(t, Save(home, Human{Name: "Bot", Email: "bot@example.com"}))
	got := Resolve(home, "")
	assert.Equal(t, "Bot", got.Name)
	assert.Equal(t, "bot@example.com", got.Email)
}

func TestResolve_incompleteFileFallsThrough(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	require.NoError(t, Save(home, Human{Name: "OnlyName"}))
	got := Resolve(home, t.TempDir())
	assert.True(t, got.Complete())
	assert.NotEqual(t, "OnlyName", got.Name)
}

func TestComplete(t *testing.T) {
	t.Parallel()
	assert.True(t, Default.Complete())
	assert.False(t, Human{Name: "x"}.Complete())
	assert.False(t, Human{Name: " ", Email: "e"}.Complete())
}
