package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/git"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/internal/worktree"
	"github.com/ankittk/orchestra/pkg/models"
)

func TestQueue_failingTestCmdReleasesWorktree(t *testing.T) {
	if !git.Available() {
		t.Skip("git binary not available")
	}
	ctx := context.Background()
	home := filepath.Join(t.TempDir(), "home")
	st, err := store.Open(home)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	m := worktree.New(st, home, "p-1", zerolog.Nop())

	wt, err := m.Create(ctx, "w-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Path, "feature.txt"), []byte("feature\n"), 0o644))

	q := &Queue{Merger: m, ProjectID: "p-1", TestCmd: "exit 1", Log: zerolog.Nop()}
	res, err := q.Merge(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, worktree.OutcomeTestsFailed, res.Outcome)
	assert.NoDirExists(t, wt.Path)

	active, err := st.ListWorktrees(ctx, "p-1", models.WorktreeActive)
	require.NoError(t, err)
	assert.Empty(t, active)
	got, err := m.Get(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeConflict, got.Status)
	assert.Nil(t, got.MergedAt)
	_, err = git.Run(ctx, m.RepoDir(), "rev-parse", "--verify", "refs/heads/worker/w-1")
	assert.NoError(t, err, "branch is kept after failing tests")

	unmerged, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, unmerged, 1, "a parked branch still counts as unmerged")

	q.TestCmd = "test -f feature.txt"
	res, err = q.Merge(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, worktree.OutcomeMerged, res.Outcome)
	assert.FileExists(t, filepath.Join(m.RepoDir(), "feature.txt"))
	assert.NoDirExists(t, wt.Path)

	unmerged, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, unmerged)
}
