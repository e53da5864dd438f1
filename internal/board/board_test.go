package board

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "p-1")
}

func TestAllDone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		backlog, inProgress, done int
		want                      bool
	}{
		{0, 0, 0, false},
		{0, 0, 1, true},
		{0, 0, 5, true},
		{1, 0, 1, false},
		{0, 1, 1, false},
		{1, 1, 0, false},
		{2, 0, 0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AllDone(tt.backlog, tt.inProgress, tt.done), "%+v", tt)
	}
}

func TestCreateAppendsWithinColumn(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()

	a, err := b.Create(ctx, NewTask{Title: "A"})
	require.NoError(t, err)
	c, err := b.Create(ctx, NewTask{Title: "B"})
	require.NoError(t, err)
	d, err := b.Create(ctx, NewTask{Title: "C", Column: models.ColumnDone})
	require.NoError(t, err)

	assert.Equal(t, models.ColumnBacklog, a.Column)
	assert.Equal(t, 1, a.Position)
	assert.Equal(t, 2, c.Position)
	assert.Equal(t, 1, d.Position)

	_, err = b.Create(ctx, NewTask{Title: "  "})
	assert.Error(t, err)
	_, err = b.Create(ctx, NewTask{Title: "x", Column: "review"})
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestMoveShiftsOccupiedPosition(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()
	a, _ := b.Create(ctx, NewTask{Title: "A"})
	c, _ := b.Create(ctx, NewTask{Title: "B"})
	d, _ := b.Create(ctx, NewTask{Title: "C", Column: models.ColumnDone})

	_, err := b.Move(ctx, d.ID, models.ColumnBacklog, 1)
	require.NoError(t, err)

	backlog, err := b.List(ctx, models.ColumnBacklog)
	require.NoError(t, err)
	require.Len(t, backlog, 3)
	assert.Equal(t, []int64{d.ID, a.ID, c.ID}, []int64{backlog[0].ID, backlog[1].ID, backlog[2].ID})
	seen := map[int]bool{}
	for _, tk := range backlog {
		assert.False(t, seen[tk.Position], "duplicate position %d", tk.Position)
		seen[tk.Position] = true
	}

	_, err = b.Move(ctx, a.ID, "nowhere", 0)
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestAssignCompleteRequeue(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()
	a, _ := b.Create(ctx, NewTask{Title: "A"})

	got, err := b.Assign(ctx, a.ID, "w-1")
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, got.Column)
	assert.Equal(t, "w-1", got.Assignee)

	got, err = b.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnDone, got.Column)
	assert.Equal(t, "w-1", got.Assignee, "done keeps the assignee")

	got, err = b.Requeue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnBacklog, got.Column)
	assert.Empty(t, got.Assignee)
}

func TestUpdatePatch(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()
	a, _ := b.Create(ctx, NewTask{Title: "A"})

	title := "A2"
	labels := []string{"verification"}
	got, err := b.Update(ctx, a.ID, models.UpdateTaskRequest{Title: &title, Labels: &labels})
	require.NoError(t, err)
	assert.Equal(t, "A2", got.Title)
	assert.True(t, got.HasLabel("verification"))
	assert.Equal(t, models.ColumnBacklog, got.Column)

	col := models.ColumnDone
	got, err = b.Update(ctx, a.ID, models.UpdateTaskRequest{Column: &col})
	require.NoError(t, err)
	assert.Equal(t, models.ColumnDone, got.Column)

	_, err = b.Update(ctx, 999, models.UpdateTaskRequest{Title: &title})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStateAndDelete(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()

	s, err := b.State(ctx)
	require.NoError(t, err)
	assert.False(t, s.AllDone, "empty board is never all done")
	assert.Contains(t, s.Summary, "(no tasks)")

	a, _ := b.Create(ctx, NewTask{Title: "A"})
	c, _ := b.Create(ctx, NewTask{Title: "B"})
	_, _ = b.Assign(ctx, a.ID, "w-1")
	s, _ = b.State(ctx)
	assert.Equal(t, 1, s.Backlog)
	assert.Equal(t, 1, s.InProgress)
	assert.Contains(t, s.Summary, "(assignee: w-1)")

	_, _ = b.Complete(ctx, a.ID)
	require.NoError(t, b.Delete(ctx, c.ID))
	s, _ = b.State(ctx)
	assert.True(t, s.AllDone)
	assert.Equal(t, 1, s.Total)

	assert.ErrorIs(t, b.Delete(ctx, c.ID), store.ErrNotFound)
}

func TestBoardsAreProjectScoped(t *testing.T) {
	t.Parallel()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	one, two := New(st, "p-1"), New(st, "p-2")
	a, _ := one.Create(ctx, NewTask{Title: "A"})
	_, err = two.Get(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, _ := two.List(ctx, "")
	assert.Empty(t, list)
}

func TestConcurrentCreatesGetUniquePositions(t *testing.T) {
	t.Parallel()
	b := newTestBoard(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Create(ctx, NewTask{Title: "t"})
		}()
	}
	wg.Wait()
	tasks, err := b.List(ctx, models.ColumnBacklog)
	require.NoError(t, err)
	require.Len(t, tasks, 10)
	for i, tk := range tasks {
		assert.Equal(t, i+1, tk.Position)
	}
}
