package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	home := filepath.Join(t.TempDir(), "home")
	require.NoError(t, EnsureSchema(home))
	st, err := Open(home)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestParseMigrationVersion(t *testing.T) {
	t.Parallel()
	v, err := parseMigrationVersion("007_add_things.sql")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	_, err = parseMigrationVersion("init.sql")
	assert.Error(t, err)
}

func TestProjectCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateProject(ctx, models.Project{})
	assert.Error(t, err, "name is required")

	p, err := st.CreateProject(ctx, models.Project{Name: "shop", Charter: "sell things"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, models.ProjectActive, p.Status)

	got, err := st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sell things", got.Charter)

	require.NoError(t, st.UpdateProjectStatus(ctx, p.ID, models.ProjectCompleted))
	got, err = st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectCompleted, got.Status)

	list, err := st.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = st.GetProject(ctx, "p-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteProjectCascades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.CreateProject(ctx, models.Project{Name: "gone"})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, models.Task{ProjectID: p.ID, Title: "a"})
	require.NoError(t, err)
	require.NoError(t, st.SaveAgent(ctx, models.Agent{ID: "w1", Role: models.RoleWorker, ProjectID: p.ID, Status: models.AgentIdle}))
	require.NoError(t, st.SaveWorktree(ctx, models.Worktree{AgentID: "w1", ProjectID: p.ID, Branch: "worker/w1", Path: "/tmp/w1", Status: models.WorktreeActive}))
	require.NoError(t, st.AppendMessage(ctx, models.Message{ID: "m1", Type: models.MessageChat, ProjectID: p.ID}))

	require.NoError(t, st.DeleteProject(ctx, p.ID))

	tasks, err := st.ListTasks(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	agents, err := st.ListAgents(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, agents)
	wts, err := st.ListWorktrees(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Empty(t, wts)
	msgs, err := st.ListMessages(ctx, models.MessageFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "history survives project deletion")

	assert.True(t, errors.Is(st.DeleteProject(ctx, p.ID), ErrNotFound))
}

func TestAgentUpsertAndStatus(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a := models.Agent{ID: "tl-1", Role: models.RoleTeamLead, ParentID: "coo", ProjectID: "p1", Status: models.AgentIdle}
	require.NoError(t, st.SaveAgent(ctx, a))
	a.Model = "m2"
	require.NoError(t, st.SaveAgent(ctx, a))
	require.NoError(t, st.UpdateAgentStatus(ctx, "tl-1", models.AgentThinking))

	got, err := st.GetAgent(ctx, "tl-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeamLead, got.Role)
	assert.Equal(t, "m2", got.Model)
	assert.Equal(t, models.AgentThinking, got.Status)

	all, err := st.ListAgents(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.DeleteAgent(ctx, "tl-1"))
	_, err = st.GetAgent(ctx, "tl-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.UpdateAgentStatus(ctx, "tl-1", models.AgentDone), ErrNotFound))
}

func TestTaskCRUDAndOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	done, err := st.CreateTask(ctx, models.Task{ProjectID: "p1", Title: "done one", Column: models.ColumnDone, Position: 1})
	require.NoError(t, err)
	b2, err := st.CreateTask(ctx, models.Task{ProjectID: "p1", Title: "second", Position: 2, Labels: []string{"api", "go"}})
	require.NoError(t, err)
	b1, err := st.CreateTask(ctx, models.Task{ProjectID: "p1", Title: "first", Position: 1, CreatedBy: "tl-1"})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, models.Task{ProjectID: "p2", Title: "other project"})
	require.NoError(t, err)

	tasks, err := st.ListTasks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []int64{b1.ID, b2.ID, done.ID}, []int64{tasks[0].ID, tasks[1].ID, tasks[2].ID})
	assert.Equal(t, []string{"api", "go"}, tasks[1].Labels)
	assert.Equal(t, models.ColumnBacklog, tasks[0].Column)

	b1.Column = models.ColumnInProgress
	b1.Assignee = "w-1"
	require.NoError(t, st.UpdateTask(ctx, b1))
	got, err := st.GetTask(ctx, "p1", b1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, got.Column)
	assert.Equal(t, "w-1", got.Assignee)
	assert.Equal(t, "tl-1", got.CreatedBy)

	_, err = st.GetTask(ctx, "p2", b1.ID)
	assert.True(t, errors.Is(err, ErrNotFound), "tasks are scoped to their project")

	require.NoError(t, st.DeleteTask(ctx, "p1", b1.ID))
	assert.True(t, errors.Is(st.DeleteTask(ctx, "p1", b1.ID), ErrNotFound))
	assert.True(t, errors.Is(st.UpdateTask(ctx, b1), ErrNotFound))
}

func TestWorktreeRecords(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	w := models.Worktree{AgentID: "w1", ProjectID: "p1", Branch: "worker/w1", Path: "/x/w1", Status: models.WorktreeActive}
	require.NoError(t, st.SaveWorktree(ctx, w))
	require.NoError(t, st.SaveWorktree(ctx, models.Worktree{AgentID: "w2", ProjectID: "p1", Branch: "worker/w2", Path: "/x/w2", Status: models.WorktreeActive}))

	now := time.Now()
	w.Status = models.WorktreeMerged
	w.MergedAt = &now
	require.NoError(t, st.SaveWorktree(ctx, w))

	active, err := st.ListWorktrees(ctx, "p1", models.WorktreeActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "w2", active[0].AgentID)

	got, err := st.GetWorktree(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeMerged, got.Status)
	require.NotNil(t, got.MergedAt)
	assert.WithinDuration(t, now, *got.MergedAt, time.Millisecond)

	_, err = st.GetWorktree(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMessageHistoryFilters(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	msgs := []models.Message{
		{ID: "1", From: "", To: "coo", Type: models.MessageDirective, Content: "build", ConversationID: "c1"},
		{ID: "2", From: "coo", To: "tl", Type: models.MessageDirective, Content: "build it", ProjectID: "p1", ConversationID: "project:p1"},
		{ID: "3", From: "tl", To: "w1", Type: models.MessageDirective, Content: "task", ProjectID: "p1", ConversationID: "project:p1",
			Metadata: map[string]any{"task_id": float64(4)}},
		{ID: "4", From: "w1", To: "tl", Type: models.MessageReport, Content: "ok", ProjectID: "p1", ConversationID: "project:p1"},
	}
	for i, m := range msgs {
		m.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, st.AppendMessage(ctx, m))
	}

	conv, err := st.ListMessages(ctx, models.MessageFilter{ConversationID: "project:p1"})
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, "2", conv[0].ID)
	assert.Equal(t, float64(4), conv[1].Metadata["task_id"])

	byAgent, err := st.ListMessages(ctx, models.MessageFilter{AgentID: "w1"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	reports, err := st.ListMessages(ctx, models.MessageFilter{ProjectID: "p1", Type: models.MessageReport})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "w1", reports[0].From)

	last2, err := st.ListMessages(ctx, models.MessageFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, []string{"3", "4"}, []string{last2[0].ID, last2[1].ID})
}

func TestCodecHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[]", EncodeLabels(nil))
	assert.Nil(t, DecodeLabels("not json"))
	assert.Equal(t, "{}", EncodeMetadata(nil))
	assert.Nil(t, DecodeMetadata("{}"))
	assert.Regexp(t, `^p-[0-9a-f]{8}$`, RandomID("p-"))
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	assert.True(t, ts.Equal(FromNanos(ToNanos(ts))))
}
