package merge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/worktree"
	"github.com/ankittk/orchestra/pkg/models"
)

type fakeMerger struct {
	mu       sync.Mutex
	wts      []models.Worktree
	order    []string
	inFlight int32
	overlap  atomic.Bool
	fail     map[string]error
}

func (f *fakeMerger) Reopen(_ context.Context, agentID string) (models.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, wt := range f.wts {
		if wt.AgentID == agentID {
			f.wts[i].Status = models.WorktreeActive
			return f.wts[i], nil
		}
	}
	return models.Worktree{}, errors.New("not found")
}

func (f *fakeMerger) Park(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, wt := range f.wts {
		if wt.AgentID == agentID {
			f.wts[i].Status = models.WorktreeConflict
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeMerger) List(context.Context) ([]models.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Worktree(nil), f.wts...), nil
}

func (f *fakeMerger) Merge(_ context.Context, agentID string) (worktree.MergeResult, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, agentID)
	if err := f.fail[agentID]; err != nil {
		return worktree.MergeResult{}, err
	}
	return worktree.MergeResult{AgentID: agentID, Branch: "worker/" + agentID, Outcome: worktree.OutcomeMerged, Message: "Merged"}, nil
}

func active(ids ...string) []models.Worktree {
	out := make([]models.Worktree, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Worktree{AgentID: id, Branch: "worker/" + id, Path: "/tmp", Status: models.WorktreeActive})
	}
	return out
}

func TestQueue_serializesMerges(t *testing.T) {
	t.Parallel()
	f := &fakeMerger{wts: active("a", "b", "c", "d")}
	q := &Queue{Merger: f, Log: zerolog.Nop()}
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := q.Merge(context.Background(), id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.False(t, f.overlap.Load(), "merges must not overlap")
	assert.Len(t, f.order, 4)
}

func TestQueue_MergeAllInCreationOrder(t *testing.T) {
	t.Parallel()
	f := &fakeMerger{wts: active("first", "second", "third"), fail: map[string]error{"second": errors.New("boom")}}
	q := &Queue{Merger: f, Log: zerolog.Nop()}
	res, err := q.MergeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"first", "second", "third"}, f.order)
	assert.Equal(t, worktree.OutcomeConflict, res[1].Outcome)
	assert.Equal(t, worktree.OutcomeMerged, res[2].Outcome)

	summary := Summarize(res)
	assert.Contains(t, summary, "worker/second: boom")
	assert.Equal(t, "No unmerged worker branches to merge.", Summarize(nil))
}

func TestQueue_failingTestCmdLeavesBranch(t *testing.T) {
	t.Parallel()
	f := &fakeMerger{wts: []models.Worktree{{AgentID: "a", Branch: "worker/a", Path: t.TempDir(), Status: models.WorktreeActive}}}
	q := &Queue{Merger: f, TestCmd: "exit 3", Log: zerolog.Nop()}
	res, err := q.Merge(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, worktree.OutcomeTestsFailed, res.Outcome)
	assert.Empty(t, f.order, "branch is not merged after failing tests")
	assert.Equal(t, models.WorktreeConflict, f.wts[0].Status, "failing tests park the worktree")

	q.TestCmd = "true"
	res, err = q.Merge(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, worktree.OutcomeMerged, res.Outcome)
}
