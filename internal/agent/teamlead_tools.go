package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/memory"
	"github.com/ankittk/orchestra/internal/merge"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/internal/tool"
	"github.com/ankittk/orchestra/internal/workflow"
	"github.com/ankittk/orchestra/pkg/models"
)

const maxDiffBytes = 32 << 10

var columnEnum = []string{string(models.ColumnBacklog), string(models.ColumnInProgress), string(models.ColumnDone)}

func (t *TeamLead) buildTools() *tool.Registry {
	taskID := tool.Param{Type: tool.TypeInteger, Description: "task id"}
	workerID := tool.Param{Type: tool.TypeString, Description: "worker agent id"}
	return tool.NewRegistry(
		tool.Tool{
			Name:        "create_task",
			Description: "Add a task to the backlog.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"title":       {Type: tool.TypeString, Description: "short imperative title"},
					"description": {Type: tool.TypeString, Description: "what done looks like"},
					"labels":      {Type: tool.TypeArray, Description: "e.g. verification, deployment, remediation"},
				},
				Required: []string{"title"},
			},
			Execute: t.createTask,
		},
		tool.Tool{
			Name:        "update_task",
			Description: "Change a task's title, description, labels, column or position. Moving to backlog clears the assignee.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"task_id":     taskID,
					"title":       {Type: tool.TypeString},
					"description": {Type: tool.TypeString},
					"labels":      {Type: tool.TypeArray},
					"column":      {Type: tool.TypeString, Enum: columnEnum},
					"position":    {Type: tool.TypeInteger, Description: "1-based position in the column"},
				},
				Required: []string{"task_id"},
			},
			Execute: t.updateTask,
		},
		tool.Tool{
			Name:        "delete_task",
			Description: "Delete a task that no live worker is working on.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"task_id": taskID}, Required: []string{"task_id"}},
			Execute:     t.deleteTask,
		},
		tool.Tool{
			Name:        "list_tasks",
			Description: "List the board, optionally one column. Allowed once per turn.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{"column": {Type: tool.TypeString, Enum: columnEnum}},
			},
			Execute: t.listTasks,
		},
		tool.Tool{
			Name:        "spawn_worker",
			Description: "Start a worker on a backlog task. It gets its own branch unless use_main_repo is true.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"task_id":       taskID,
					"template":      {Type: tool.TypeString, Description: "worker template id (see search_registry)"},
					"instructions":  {Type: tool.TypeString, Description: "extra guidance for the worker"},
					"use_main_repo": {Type: tool.TypeBoolean, Description: "work directly on main (verification, deployment)"},
				},
				Required: []string{"task_id"},
			},
			Execute: t.spawnWorker,
		},
		tool.Tool{
			Name:        "list_workers",
			Description: "List live workers and the tasks they hold.",
			Execute:     t.listWorkers,
		},
		tool.Tool{
			Name:        "kill_worker",
			Description: "Stop a live worker, abandon its branch and return its task to the backlog.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}, Required: []string{"worker_id"}},
			Execute:     t.killWorker,
		},
		tool.Tool{
			Name:        "request_worker_status",
			Description: "Ask a worker for its status. A busy worker may not answer in time.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}, Required: []string{"worker_id"}},
			Execute:     t.requestWorkerStatus,
		},
		tool.Tool{
			Name:        "merge_worker_branch",
			Description: "Merge a finished worker's branch into main. Conflicts are reported, not resolved.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}, Required: []string{"worker_id"}},
			Execute:     t.mergeWorkerBranch,
		},
		tool.Tool{
			Name:        "merge_all_branches",
			Description: "Merge every finished worker branch into main in creation order.",
			Execute:     t.mergeAllBranches,
		},
		tool.Tool{
			Name:        "update_worker_branch",
			Description: "Rebase a worker branch onto the current main. A conflicted branch is checked out again first.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}, Required: []string{"worker_id"}},
			Execute:     t.updateWorkerBranch,
		},
		tool.Tool{
			Name:        "get_branch_status",
			Description: "Ahead/behind/uncommitted for one worker branch, or all when worker_id is omitted. Allowed once per turn.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}},
			Execute:     t.getBranchStatus,
		},
		tool.Tool{
			Name:        "get_branch_diff",
			Description: "Show what a worker branch changes relative to main.",
			Schema:      tool.Schema{Properties: map[string]tool.Param{"worker_id": workerID}, Required: []string{"worker_id"}},
			Execute:     t.getBranchDiff,
		},
		tool.Tool{
			Name:        "search_registry",
			Description: "Find worker templates by capability (empty lists all).",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{"capability": {Type: tool.TypeString}},
			},
			Execute: t.searchRegistry,
		},
		tool.Tool{
			Name:        "report_to_coo",
			Description: "Send the final project report to the COO.",
			Schema: tool.Schema{
				Properties: map[string]tool.Param{
					"summary": {Type: tool.TypeString, Description: "what was built, verified and deployed"},
					"success": {Type: tool.TypeBoolean, Description: "default true"},
				},
				Required: []string{"summary"},
			},
			Execute: t.reportToCOO,
		},
	)
}

// limited refuses repeat calls of a polling tool within one think. The call
// itself was already counted by dispatch.
func limited(ctx context.Context, name string) (string, bool) {
	n := cycleFrom(ctx).count(name)
	if n <= 1 {
		return "", false
	}
	return fmt.Sprintf("%s was already called this turn (call %d). Use the state you have instead of polling; "+
		"you will get a new prompt when a worker reports.", name, n), true
}

func (t *TeamLead) createTask(ctx context.Context, args tool.Args) (string, error) {
	task, err := t.board.Create(ctx, board.NewTask{
		Title:       args.String("title"),
		Description: args.String("description"),
		Labels:      args.Strings("labels"),
		CreatedBy:   t.ID(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created task #%d %q in %s.", task.ID, task.Title, task.Column), nil
}

func (t *TeamLead) taskOrErr(ctx context.Context, id int64) (models.Task, error) {
	task, err := t.board.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Task{}, fmt.Errorf("task #%d does not exist", id)
	}
	return task, err
}

func (t *TeamLead) updateTask(ctx context.Context, args tool.Args) (string, error) {
	id := args.Int("task_id")
	task, err := t.taskOrErr(ctx, id)
	if err != nil {
		return "", err
	}
	var patch models.UpdateTaskRequest
	if args.Has("title") {
		v := args.String("title")
		patch.Title = &v
	}
	if args.Has("description") {
		v := args.String("description")
		patch.Description = &v
	}
	if args.Has("labels") {
		v := args.Strings("labels")
		patch.Labels = &v
	}
	if args.Has("column") {
		col := models.Column(args.String("column"))
		switch {
		case col == models.ColumnInProgress && task.Column != models.ColumnInProgress:
			return "", errors.New("tasks enter in_progress through spawn_worker")
		case col == models.ColumnBacklog && task.Column != models.ColumnBacklog:
			if w, ok := t.liveWorker(task.Assignee); ok {
				return "", fmt.Errorf("task #%d is held by live worker %s; use kill_worker", id, w.ID())
			}
			if _, err := t.board.Requeue(ctx, id); err != nil {
				return "", err
			}
			t.clearSuspect(id)
		default:
			patch.Column = &col
		}
	}
	if args.Has("position") {
		v := int(args.Int("position"))
		patch.Position = &v
	}
	task, err = t.board.Update(ctx, id, patch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task #%d %q is now in %s at position %d.", task.ID, task.Title, task.Column, task.Position), nil
}

func (t *TeamLead) clearSuspect(id int64) {
	t.mu.Lock()
	delete(t.suspects, id)
	t.mu.Unlock()
}

func (t *TeamLead) deleteTask(ctx context.Context, args tool.Args) (string, error) {
	id := args.Int("task_id")
	task, err := t.taskOrErr(ctx, id)
	if err != nil {
		return "", err
	}
	if _, ok := t.liveWorker(task.Assignee); ok && task.Column == models.ColumnInProgress {
		return "", fmt.Errorf("task #%d is held by live worker %s; use kill_worker first", id, task.Assignee)
	}
	if err := t.board.Delete(ctx, id); err != nil {
		return "", err
	}
	t.clearSuspect(id)
	return fmt.Sprintf("Deleted task #%d %q.", id, task.Title), nil
}

func (t *TeamLead) listTasks(ctx context.Context, args tool.Args) (string, error) {
	if msg, refused := limited(ctx, "list_tasks"); refused {
		return msg, nil
	}
	tasks, err := t.board.List(ctx, models.Column(args.String("column")))
	if err != nil {
		return "", err
	}
	if args.Has("column") {
		if len(tasks) == 0 {
			return fmt.Sprintf("No tasks in %s.", args.String("column")), nil
		}
		lines := make([]string, 0, len(tasks))
		for _, task := range tasks {
			lines = append(lines, taskLine(task))
		}
		return strings.Join(lines, "\n"), nil
	}
	return board.Summarize(tasks).Summary, nil
}

func taskLine(task models.Task) string {
	s := fmt.Sprintf("#%d [%s] %s", task.ID, task.Column, task.Title)
	if task.Assignee != "" {
		s += " (assignee: " + task.Assignee + ")"
	}
	if len(task.Labels) > 0 {
		s += " {" + strings.Join(task.Labels, ", ") + "}"
	}
	return s
}

// defaultTemplate picks a template from the task's labels.
func (t *TeamLead) defaultTemplate(task models.Task) string {
	switch {
	case task.HasLabel(workflow.LabelVerification):
		if _, ok := t.deps.Registry.Get("tester"); ok {
			return "tester"
		}
	case task.HasLabel(workflow.LabelDeployment):
		if _, ok := t.deps.Registry.Get("deployer"); ok {
			return "deployer"
		}
	}
	return registry.DefaultTemplate
}

func (t *TeamLead) spawnWorker(ctx context.Context, args tool.Args) (string, error) {
	if t.isDestroyed() {
		return "", errors.New("team lead is shutting down")
	}
	if n, limit := t.liveCount(), t.deps.Limits.MaxWorkers; n >= limit {
		return fmt.Sprintf("At capacity: %d of %d workers are running. Wait for a report before spawning more.", n, limit), nil
	}
	task, err := t.taskOrErr(ctx, args.Int("task_id"))
	if err != nil {
		return "", err
	}
	if task.Column != models.ColumnBacklog {
		return "", fmt.Errorf("task #%d is in %s; only backlog tasks can be started", task.ID, task.Column)
	}
	tmplID := args.String("template")
	if tmplID == "" {
		tmplID = t.defaultTemplate(task)
	}
	tmpl, ok := t.deps.Registry.Get(tmplID)
	if !ok {
		return "", fmt.Errorf("unknown template %q; use search_registry", tmplID)
	}

	id := store.RandomID("worker-")
	ws := workerSpec{ID: id, TaskID: task.ID, Template: tmpl, LogsDir: memory.LogsDir(t.trees.ProjectDir())}
	if args.Bool("use_main_repo") {
		repo, err := t.trees.EnsureRepo(ctx)
		if err != nil {
			return "", fmt.Errorf("prepare repository: %w", err)
		}
		ws.Workspace = repo
	} else {
		wt, err := t.trees.Create(ctx, id)
		if err != nil {
			return "", fmt.Errorf("create worktree: %w", err)
		}
		ws.Workspace, ws.Branch = wt.Path, wt.Branch
	}

	w := newWorker(t.ctx, t.deps, t, ws)
	w.persist(ctx)
	if _, err := t.board.Assign(ctx, task.ID, id); err != nil {
		_ = w.Destroy(ctx)
		if ws.Branch != "" {
			_ = t.trees.Abandon(ctx, id)
		}
		return "", fmt.Errorf("assign task: %w", err)
	}
	w.register(w.HandleMessage)
	t.mu.Lock()
	t.workers[id] = w
	delete(t.suspects, task.ID)
	t.mu.Unlock()

	if _, err := t.send(ctx, models.Message{
		To:       id,
		Type:     models.MessageDirective,
		Content:  workerDirective(task, args.String("instructions"), ws.Branch),
		Metadata: map[string]any{"task_id": task.ID},
	}); err != nil {
		return "", fmt.Errorf("send directive: %w", err)
	}
	t.log.Info().Str("worker_id", id).Int64("task_id", task.ID).Str("template", tmpl.ID).Str("branch", ws.Branch).Msg("worker spawned")

	where := "main (shared repository)"
	if ws.Branch != "" {
		where = "branch " + ws.Branch
	}
	return fmt.Sprintf("Spawned %s (%s) for task #%d on %s. %d of %d workers running.",
		id, tmpl.ID, task.ID, where, t.liveCount(), t.deps.Limits.MaxWorkers), nil
}

func (t *TeamLead) listWorkers(_ context.Context, _ tool.Args) (string, error) {
	workers := t.Workers()
	if len(workers) == 0 {
		return "No live workers.", nil
	}
	lines := make([]string, 0, len(workers))
	for _, w := range workers {
		lines = append(lines, fmt.Sprintf("%s task #%d template=%s status=%s", w.ID, w.TaskID, w.Template, w.Status))
	}
	return strings.Join(lines, "\n"), nil
}

func (t *TeamLead) killWorker(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("worker_id")
	t.mu.Lock()
	w, ok := t.workers[id]
	delete(t.workers, id)
	t.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no live worker %s", id)
	}
	_ = w.Destroy(ctx)
	if w.Branch() != "" {
		if err := t.trees.Abandon(ctx, id); err != nil {
			t.log.Warn().Err(err).Str("worker_id", id).Msg("abandon worktree failed")
		}
	}
	if task, err := t.board.Get(ctx, w.TaskID()); err == nil && task.Column == models.ColumnInProgress && task.Assignee == id {
		if _, err := t.board.Requeue(ctx, task.ID); err != nil {
			return "", err
		}
	}
	t.log.Info().Str("worker_id", id).Msg("worker killed")
	return fmt.Sprintf("Stopped %s and returned task #%d to the backlog.", id, w.TaskID()), nil
}

func (t *TeamLead) requestWorkerStatus(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("worker_id")
	if _, ok := t.liveWorker(id); !ok {
		return "", fmt.Errorf("no live worker %s", id)
	}
	reply, ok := t.deps.Bus.Request(ctx, models.Message{
		From:           t.ID(),
		To:             id,
		Type:           models.MessageStatusRequest,
		ProjectID:      t.ProjectID(),
		ConversationID: t.conversationID(),
	}, t.deps.Limits.StatusTimeout)
	if !ok {
		return bus.NoResponse, nil
	}
	return reply.Content, nil
}

// running reports whether agentID is a live worker with its own branch.
func (t *TeamLead) running(agentID string) bool {
	w, ok := t.liveWorker(agentID)
	return ok && w.Branch() != ""
}

func (t *TeamLead) mergeWorkerBranch(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("worker_id")
	if t.running(id) {
		return fmt.Sprintf("%s is still running. Merge its branch after it reports.", id), nil
	}
	res, err := t.merges.Merge(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no unmerged branch for %s", id)
		}
		return "", err
	}
	return res.String(), nil
}

func (t *TeamLead) mergeAllBranches(ctx context.Context, _ tool.Args) (string, error) {
	var busy []string
	for _, w := range t.Workers() {
		if t.running(w.ID) {
			busy = append(busy, w.ID)
		}
	}
	if len(busy) > 0 {
		return fmt.Sprintf("Workers still running on branches: %s. Merge after they report.", strings.Join(busy, ", ")), nil
	}
	results, err := t.merges.MergeAll(ctx)
	if err != nil {
		return "", err
	}
	return merge.Summarize(results), nil
}

func (t *TeamLead) updateWorkerBranch(ctx context.Context, args tool.Args) (string, error) {
	id := args.String("worker_id")
	if t.running(id) {
		return fmt.Sprintf("%s is still running. Rebase its branch after it reports.", id), nil
	}
	return t.trees.Update(ctx, id)
}

func (t *TeamLead) getBranchStatus(ctx context.Context, args tool.Args) (string, error) {
	if msg, refused := limited(ctx, "get_branch_status"); refused {
		return msg, nil
	}
	id := args.String("worker_id")
	if id == "" {
		return t.trees.Overview(ctx)
	}
	st, err := t.trees.Status(ctx, id)
	if err != nil {
		return "", err
	}
	return st.String(), nil
}

func (t *TeamLead) getBranchDiff(ctx context.Context, args tool.Args) (string, error) {
	diff, err := t.trees.Diff(ctx, args.String("worker_id"))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(diff) == "" {
		return "No changes.", nil
	}
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n... (diff truncated)"
	}
	return diff, nil
}

func (t *TeamLead) searchRegistry(_ context.Context, args tool.Args) (string, error) {
	found := t.deps.Registry.Search(args.String("capability"))
	if len(found) == 0 {
		return fmt.Sprintf("No templates match %q. Use %q.", args.String("capability"), registry.DefaultTemplate), nil
	}
	lines := make([]string, 0, len(found))
	for _, tmpl := range found {
		lines = append(lines, fmt.Sprintf("%s: %s. Capabilities: %s", tmpl.ID, tmpl.Description, strings.Join(tmpl.Capabilities, ", ")))
	}
	return strings.Join(lines, "\n"), nil
}

func (t *TeamLead) reportToCOO(ctx context.Context, args tool.Args) (string, error) {
	success := true
	if args.Has("success") {
		success = args.Bool("success")
	}
	if _, err := t.send(ctx, models.Message{
		To:      t.ParentID(),
		Type:    models.MessageReport,
		Content: args.String("summary"),
		Metadata: map[string]any{
			"project_id": t.ProjectID(),
			"success":    success,
		},
	}); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.flags.Reported = true
	t.mu.Unlock()
	t.log.Info().Bool("success", success).Msg("reported to coo")
	return "Report sent to the COO.", nil
}
