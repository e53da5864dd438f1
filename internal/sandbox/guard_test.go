package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_Resolve(t *testing.T) {
	root := filepath.Join(t.TempDir(), "worktrees", "w-1")
	ws := Workspace{Root: root}

	got, err := ws.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "main.go"), got)

	got, err = ws.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = ws.Resolve(filepath.Join(root, "a", "..", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b.txt"), got)

	for _, bad := range []string{"../w-2/x", "/etc/passwd", "a/../../escape"} {
		_, err := ws.Resolve(bad)
		assert.ErrorIs(t, err, ErrOutsideWorkspace, bad)
	}
	_, err = Workspace{}.Resolve("x")
	assert.Error(t, err)
}

func TestWorkspace_ResolveWrite(t *testing.T) {
	ws := Workspace{Root: t.TempDir()}
	_, err := ws.ResolveWrite("README.md")
	assert.NoError(t, err)
	_, err = ws.ResolveWrite(".git/config")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
	_, err = ws.ResolveWrite(".gitignore")
	assert.NoError(t, err)
	_, err = ws.ResolveWrite(".")
	assert.Error(t, err)
}
