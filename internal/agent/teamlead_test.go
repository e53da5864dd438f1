package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/llm"
	"github.com/ankittk/orchestra/internal/memory"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/internal/workflow"
	"github.com/ankittk/orchestra/pkg/models"
)

func call(name string, args map[string]any) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{llm.Call("c-"+name, name, args)}}
}

func say(text string) llm.Response { return llm.Response{Text: text} }

func directive(env *testEnv, content string) models.Message {
	return models.Message{
		To:             TeamLeadID(env.project.ID),
		Type:           models.MessageDirective,
		Content:        content,
		ProjectID:      env.project.ID,
		ConversationID: models.ProjectConversationID(env.project.ID),
	}
}

func TestSingleTaskDeliveredAndReported(t *testing.T) {
	t.Parallel()
	requireGit(t)
	lead := llm.NewScripted(
		call("create_task", map[string]any{"title": "Write greeting"}),
		call("spawn_worker", map[string]any{"task_id": 1}),
		say("Worker started."),
		// after the worker's report
		call("merge_all_branches", nil),
		say("Merged."),
		call("report_to_coo", map[string]any{"summary": "greeting delivered"}),
		say("Reported."),
	)
	env := newTestEnv(t, &brain{lead: lead, worker: writingWorker()})
	coo := env.inbox(t, COOID)
	tl := env.newLead(t, true)

	_, err := env.bus.Send(context.Background(), directive(env, "Write a greeting file"))
	require.NoError(t, err)

	report := receive(t, coo, models.MessageReport)
	assert.Equal(t, "greeting delivered", report.Content)
	assert.Equal(t, true, report.Metadata["success"])

	ctx := context.Background()
	task, err := tl.Board().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnDone, task.Column)
	assert.NotEmpty(t, task.Assignee)

	wt, err := env.store.GetWorktree(ctx, task.Assignee)
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeMerged, wt.Status)
	assert.NoDirExists(t, wt.Path)
	assert.FileExists(t, filepath.Join(tl.Worktrees().RepoDir(), "task-1.txt"))

	assert.Empty(t, tl.Workers())
	assert.False(t, env.bus.Registered(task.Assignee))
	flags := tl.Flags()
	assert.True(t, flags.VerificationRequested)
	assert.True(t, flags.Reported)

	journal, err := (&memory.Journal{ProjectDir: tl.Worktrees().ProjectDir()}).Read(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, journal, "Write greeting")
	assert.Contains(t, journal, "success")
}

func TestTwoTasksOneFailure(t *testing.T) {
	t.Parallel()
	requireGit(t)
	lead := llm.NewScripted(
		llm.Response{ToolCalls: []llm.ToolCall{
			llm.Call("1", "create_task", map[string]any{"title": "Good"}),
			llm.Call("2", "create_task", map[string]any{"title": "Broken"}),
		}},
		llm.Response{ToolCalls: []llm.ToolCall{
			llm.Call("3", "spawn_worker", map[string]any{"task_id": 1}),
			llm.Call("4", "spawn_worker", map[string]any{"task_id": 2}),
		}},
		say("Two workers running."),
	)
	env := newTestEnv(t, &brain{lead: lead, worker: writingWorker(2)})
	env.inbox(t, COOID)
	tl := env.newLead(t, true)

	_, err := env.bus.Send(context.Background(), directive(env, "Do two things"))
	require.NoError(t, err)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		st, err := tl.Board().State(ctx)
		if err != nil || st.Done != 1 || st.Backlog != 1 || len(tl.Workers()) != 0 {
			return false
		}
		trees, err := env.store.ListWorktrees(ctx, env.project.ID, models.WorktreeAbandoned)
		return err == nil && len(trees) == 1
	}, 15*time.Second, 20*time.Millisecond)

	good, err := tl.Board().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnDone, good.Column)
	broken, err := tl.Board().Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnBacklog, broken.Column)
	assert.Empty(t, broken.Assignee)

	active, err := env.store.ListWorktrees(ctx, env.project.ID, models.WorktreeActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, good.Assignee, active[0].AgentID)

	require.Eventually(t, func() bool {
		j, _ := (&memory.Journal{ProjectDir: tl.Worktrees().ProjectDir()}).Read(ctx, 0)
		return strings.Contains(j, "failure") && strings.Contains(j, "success")
	}, 5*time.Second, 20*time.Millisecond)
}

// phaseWorker writes task-<id>.txt for every task except the deployment,
// which only lists the workspace.
func phaseWorker(deployTask int64) llm.ProviderFunc {
	return func(_ context.Context, req llm.Request) (llm.Response, error) {
		id := taskOf(req)
		if !lastIsUser(req) {
			return say(fmt.Sprintf("task %d finished", id)), nil
		}
		if id == deployTask {
			return call("list_files", map[string]any{"path": "."}), nil
		}
		return call("write_file", map[string]any{"path": fmt.Sprintf("task-%d.txt", id), "content": "done\n"}), nil
	}
}

func TestDirectiveRunsThroughVerificationAndDeployment(t *testing.T) {
	t.Parallel()
	requireGit(t)
	lead := llm.NewScripted(
		call("create_task", map[string]any{"title": "Write greeting"}),
		call("spawn_worker", map[string]any{"task_id": 1}),
		say("Worker started."),
		// report of task 1: final assembly
		call("merge_all_branches", nil),
		say("Merged."),
		// verification
		call("create_task", map[string]any{"title": "Verify greeting", "labels": []string{workflow.LabelVerification}}),
		call("spawn_worker", map[string]any{"task_id": 2, "use_main_repo": true}),
		say("Tester started."),
		// report of task 2: deployment
		call("create_task", map[string]any{"title": "Deploy greeting", "labels": []string{workflow.LabelDeployment}}),
		call("spawn_worker", map[string]any{"task_id": 3, "use_main_repo": true}),
		say("Deployer started."),
		// report of task 3: reporting
		call("report_to_coo", map[string]any{"summary": "greeting built, verified and deployed"}),
		say("Reported."),
	)
	env := newTestEnv(t, &brain{lead: lead, worker: phaseWorker(3)})
	coo := env.inbox(t, COOID)
	tl := env.newLead(t, true)
	ctx := context.Background()

	_, err := env.bus.Send(ctx, directive(env, "Write a greeting and ship it"))
	require.NoError(t, err)

	report := receive(t, coo, models.MessageReport)
	assert.Equal(t, "greeting built, verified and deployed", report.Content)
	require.Eventually(t, func() bool {
		return lead.Remaining() == 0 &&
			tl.Flags() == workflow.Flags{VerificationRequested: true, DeploymentRequested: true, Reported: true}
	}, 10*time.Second, 20*time.Millisecond)

	repo := tl.Worktrees().RepoDir()
	st, err := tl.Board().State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Done)
	tester, err := tl.Board().Get(ctx, 2)
	require.NoError(t, err)
	deployer, err := tl.Board().Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "tester", mustAgent(t, env, tester.Assignee).Template)
	assert.Equal(t, "deployer", mustAgent(t, env, deployer.Assignee).Template)
	for _, task := range []models.Task{tester, deployer} {
		assert.Equal(t, repo, mustAgent(t, env, task.Assignee).WorkspacePath, "main repo spawn works in the repository")
		_, err := env.store.GetWorktree(ctx, task.Assignee)
		assert.ErrorIs(t, err, store.ErrNotFound, "no worktree for a main repo spawn")
	}
	trees, err := env.store.ListWorktrees(ctx, env.project.ID, "")
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, models.WorktreeMerged, trees[0].Status)
	assert.FileExists(t, filepath.Join(repo, "task-1.txt"))
	assert.FileExists(t, filepath.Join(repo, "task-2.txt"))

	_, err = tl.Board().Create(ctx, board.NewTask{Title: "Add a farewell"})
	require.NoError(t, err)
	_, err = env.bus.Send(ctx, directive(env, "Also say goodbye"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return tl.Flags() == workflow.Flags{}
	}, 10*time.Second, 20*time.Millisecond, "a new directive resets the phase flags")
}

func mustAgent(t *testing.T, env *testEnv, id string) models.Agent {
	t.Helper()
	a, err := env.store.GetAgent(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestConflictedBranchUpdatedAndMerged(t *testing.T) {
	t.Parallel()
	requireGit(t)
	env := newTestEnv(t, llm.NewScripted())
	tl := env.newLead(t, false)
	ctx := context.Background()

	task, err := tl.Board().Create(ctx, board.NewTask{Title: "shared"})
	require.NoError(t, err)
	_, err = tl.Board().Assign(ctx, task.ID, "worker-a")
	require.NoError(t, err)
	_, err = tl.Board().Complete(ctx, task.ID)
	require.NoError(t, err)

	a, err := tl.trees.Create(ctx, "worker-a")
	require.NoError(t, err)
	b, err := tl.trees.Create(ctx, "worker-b")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.Path, "shared.txt"), []byte("from a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.Path, "shared.txt"), []byte("from b\n"), 0o644))

	out, err := tl.tools.Execute(ctx, "merge_worker_branch", json.RawMessage(`{"worker_id":"worker-a"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Merged")
	out, err = tl.tools.Execute(ctx, "merge_worker_branch", json.RawMessage(`{"worker_id":"worker-b"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "conflicted")
	assert.Contains(t, out, "shared.txt")

	snap, _, err := tl.snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Worktrees, "a conflicted branch is still unmerged")
	assert.Equal(t, workflow.PhaseFinalAssembly, workflow.Decide(snap, workflow.Flags{}))

	out, err = tl.tools.Execute(ctx, "update_worker_branch", json.RawMessage(`{"worker_id":"worker-b"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "conflicts")
	assert.DirExists(t, b.Path)
	wt, err := env.store.GetWorktree(ctx, "worker-b")
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeActive, wt.Status)

	// Resolve by taking main's version.
	require.NoError(t, os.WriteFile(filepath.Join(b.Path, "shared.txt"), []byte("from a\n"), 0o644))
	out, err = tl.tools.Execute(ctx, "merge_worker_branch", json.RawMessage(`{"worker_id":"worker-b"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Merged")

	snap, _, err = tl.snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Worktrees)
	assert.Equal(t, workflow.PhaseVerification, workflow.Decide(snap, workflow.Flags{}))
}

// actOnce answers every user turn with one tool call and every tool result
// with text, so each think reports ToolCallsHappened.
func actOnce(calls *lockedCounter, name string, args func(n int) map[string]any) llm.ProviderFunc {
	return func(_ context.Context, req llm.Request) (llm.Response, error) {
		if !lastIsUser(req) {
			return say("ok"), nil
		}
		n := calls.inc()
		return call(name, args(n)), nil
	}
}

func TestContinuationStopsOnStaleState(t *testing.T) {
	t.Parallel()
	var thinks lockedCounter
	env := newTestEnv(t, actOnce(&thinks, "list_workers", func(int) map[string]any { return nil }))
	tl := env.newLead(t, false)

	tl.drive(context.Background(), "Directive: nothing changes")
	assert.Equal(t, 1, thinks.get(), "second snapshot equals the first")
}

func TestContinuationBoundedByMaxCycles(t *testing.T) {
	t.Parallel()
	var thinks lockedCounter
	env := newTestEnv(t, actOnce(&thinks, "create_task", func(n int) map[string]any {
		return map[string]any{"title": "step", "description": string(rune('a' + n))}
	}))
	tl := env.newLead(t, false)

	tl.drive(context.Background(), "Directive: keep planning")
	maxCycles := env.deps.Limits.MaxContinuationCycles
	assert.Equal(t, 1+maxCycles, thinks.get())
	st, err := tl.Board().State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1+maxCycles, st.Backlog)
}

func TestContinuationStopsWhenAwaiting(t *testing.T) {
	t.Parallel()
	var thinks lockedCounter
	env := newTestEnv(t, actOnce(&thinks, "delete_task", func(int) map[string]any { return map[string]any{"task_id": 2} }))
	tl := env.newLead(t, false)
	ctx := context.Background()
	task, err := tl.Board().Create(ctx, board.NewTask{Title: "busy"})
	require.NoError(t, err)
	_, err = tl.Board().Assign(ctx, task.ID, "worker-x")
	require.NoError(t, err)
	_, err = tl.Board().Create(ctx, board.NewTask{Title: "dropped"})
	require.NoError(t, err)

	tl.drive(ctx, "Report: something")
	assert.Equal(t, 1, thinks.get(), "backlog emptied with work in progress")
	st, err := tl.Board().State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Backlog)
}

func TestOrphanReconciliation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	tl := env.newLead(t, false)
	ctx := context.Background()

	orphan, err := tl.Board().Create(ctx, board.NewTask{Title: "lost"})
	require.NoError(t, err)
	_, err = tl.Board().Assign(ctx, orphan.ID, "worker-ghost")
	require.NoError(t, err)
	held, err := tl.Board().Create(ctx, board.NewTask{Title: "held"})
	require.NoError(t, err)
	_, err = tl.Board().Assign(ctx, held.ID, "worker-live")
	require.NoError(t, err)
	tl.workers["worker-live"] = newWorker(ctx, env.deps, tl, workerSpec{
		ID:        "worker-live",
		TaskID:    held.ID,
		Template:  registry.Template{ID: "x", SystemPrompt: "x"},
		Workspace: t.TempDir(),
	})

	items, err := tl.reconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, items, "worker-ghost")
	assert.NotContains(t, items, "worker-live")
	got, err := tl.Board().Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, got.Column, "first sighting is only flagged")

	items, err = tl.reconcile(ctx)
	require.NoError(t, err)
	assert.Contains(t, items, "returned to the backlog")
	got, err = tl.Board().Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnBacklog, got.Column)
	assert.Empty(t, got.Assignee)

	got, err = tl.Board().Get(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, got.Column)

	items, err = tl.reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPollingToolsLimitedPerCycle(t *testing.T) {
	t.Parallel()
	sc := llm.NewScripted(
		llm.Response{ToolCalls: []llm.ToolCall{
			llm.Call("1", "list_tasks", nil),
			llm.Call("2", "list_tasks", nil),
			llm.Call("3", "get_branch_status", nil),
			llm.Call("4", "get_branch_status", nil),
		}},
		say("seen"),
		call("list_tasks", nil),
		say("seen again"),
	)
	env := newTestEnv(t, sc)
	tl := env.newLead(t, false)
	ctx := context.Background()

	_, err := tl.think(ctx, "look")
	require.NoError(t, err)
	msgs := sc.Requests()[1].Messages
	results := msgs[len(msgs)-4:]
	assert.Contains(t, results[0].Content, "(no tasks)")
	assert.Contains(t, results[1].Content, "already called this turn (call 2)")
	assert.Equal(t, "No unmerged worker branches.", results[2].Content)
	assert.Contains(t, results[3].Content, "already called this turn")

	_, err = tl.think(ctx, "look again")
	require.NoError(t, err)
	msgs = sc.Requests()[3].Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "(no tasks)", "a new cycle resets the limit")
}

func TestRequestWorkerStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	tl := env.newLead(t, false)
	ctx := context.Background()
	newSpec := func(id string) workerSpec {
		return workerSpec{ID: id, TaskID: 7, Template: registry.Template{ID: "x", SystemPrompt: "x"}, Workspace: t.TempDir()}
	}

	// Live in the Team Lead's set but never registered on the bus.
	tl.workers["worker-silent"] = newWorker(ctx, env.deps, tl, newSpec("worker-silent"))
	start := time.Now()
	out, err := tl.tools.Execute(ctx, "request_worker_status", json.RawMessage(`{"worker_id":"worker-silent"}`))
	require.NoError(t, err)
	assert.Equal(t, bus.NoResponse, out)
	assert.GreaterOrEqual(t, time.Since(start), env.deps.Limits.StatusTimeout)

	w := newWorker(ctx, env.deps, tl, newSpec("worker-idle"))
	w.register(w.HandleMessage)
	tl.workers["worker-idle"] = w
	out, err = tl.tools.Execute(ctx, "request_worker_status", json.RawMessage(`{"worker_id":"worker-idle"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "task #7")
	assert.Contains(t, out, string(models.AgentIdle))

	_, err = tl.tools.Execute(ctx, "request_worker_status", json.RawMessage(`{"worker_id":"worker-none"}`))
	assert.Error(t, err)
}

func TestSpawnWorkerRules(t *testing.T) {
	t.Parallel()
	requireGit(t)
	block := llm.ProviderFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})
	env := newTestEnv(t, block)
	env.deps.Limits.MaxWorkers = 1
	tl := env.newLead(t, true)
	ctx := context.Background()
	a, err := tl.Board().Create(ctx, board.NewTask{Title: "a"})
	require.NoError(t, err)
	b, err := tl.Board().Create(ctx, board.NewTask{Title: "b"})
	require.NoError(t, err)

	_, err = tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":99}`))
	assert.ErrorContains(t, err, "does not exist")
	_, err = tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":1,"template":"astronaut"}`))
	assert.ErrorContains(t, err, "unknown template")

	out, err := tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":1}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Spawned")
	got, err := tl.Board().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnInProgress, got.Column)

	_, err = tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":1}`))
	require.NoError(t, err, "capacity is checked before the task")
	out, err = tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":2}`))
	require.NoError(t, err)
	assert.Contains(t, out, "At capacity")
	got, err = tl.Board().Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ColumnBacklog, got.Column)
}

func TestDestroyReclaimsWorkersAndWorktrees(t *testing.T) {
	t.Parallel()
	requireGit(t)
	block := llm.ProviderFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	})
	env := newTestEnv(t, block)
	reports := make(chan models.Message, 16)
	env.bus.Observe(func(_ context.Context, m models.Message) {
		if m.Type == models.MessageReport {
			reports <- m
		}
	})
	tl := env.newLead(t, true)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		task, err := tl.Board().Create(ctx, board.NewTask{Title: title})
		require.NoError(t, err)
		_, err = tl.tools.Execute(ctx, "spawn_worker", json.RawMessage(`{"task_id":`+strconv.FormatInt(task.ID, 10)+`}`))
		require.NoError(t, err)
	}
	require.Len(t, tl.Workers(), 3)
	_, err := tl.trees.Create(ctx, "worker-leftover")
	require.NoError(t, err)
	ids := tl.Workers()

	require.NoError(t, tl.Destroy(ctx))

	assert.Empty(t, tl.Workers())
	for _, w := range ids {
		assert.False(t, env.bus.Registered(w.ID))
	}
	assert.False(t, env.bus.Registered(tl.ID()))
	trees, err := env.store.ListWorktrees(ctx, env.project.ID, "")
	require.NoError(t, err)
	require.Len(t, trees, 4)
	for _, wt := range trees {
		assert.Equal(t, models.WorktreeAbandoned, wt.Status, wt.AgentID)
		_, statErr := os.Stat(wt.Path)
		assert.True(t, os.IsNotExist(statErr), wt.Path)
	}
	assert.NoError(t, tl.Destroy(ctx), "second destroy is a no-op")

	select {
	case m := <-reports:
		t.Fatalf("destroyed worker reported: %s", m.Content)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTeamLeadSeedsFromJournalOnRestart(t *testing.T) {
	t.Parallel()
	sc := llm.NewScripted(say("ready"))
	env := newTestEnv(t, sc)
	ctx := context.Background()
	j := &memory.Journal{ProjectDir: memory.ProjectDir(env.deps.Home, env.project.ID)}
	require.NoError(t, j.Append(ctx, memory.JournalEntry{AgentID: "worker-old", TaskID: 3, TaskTitle: "Old work", Outcome: "success"}))

	tl := env.newLead(t, true)
	_, err := tl.think(ctx, "status?")
	require.NoError(t, err)
	first := sc.Requests()[0].Messages[0]
	assert.Equal(t, llm.RoleUser, first.Role)
	assert.Contains(t, first.Content, "Old work")
}

func TestStatusRequestToTeamLead(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, llm.NewScripted())
	tl := env.newLead(t, true)
	_, err := tl.Board().Create(context.Background(), board.NewTask{Title: "x"})
	require.NoError(t, err)

	reply, ok := env.bus.Request(context.Background(), models.Message{From: "tester", To: tl.ID(), ProjectID: env.project.ID}, 2*time.Second)
	require.True(t, ok)
	assert.Contains(t, reply.Content, "backlog=1")
	assert.Contains(t, reply.Content, "No live workers.")
}
