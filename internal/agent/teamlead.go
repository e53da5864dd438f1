package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/memory"
	"github.com/ankittk/orchestra/internal/merge"
	"github.com/ankittk/orchestra/internal/worktree"
	"github.com/ankittk/orchestra/internal/workflow"
	"github.com/ankittk/orchestra/pkg/models"
)

const (
	seedMessages      = 30
	seedMessageLen    = 400
	journalSummaryLen = 4000
)

// TeamLead owns one project: its board, its worktrees and its live workers.
// It is the only writer of the worker set and the worktree records.
type TeamLead struct {
	*base

	project models.Project
	board   *board.Board
	trees   *worktree.Manager
	merges  *merge.Queue
	journal *memory.Journal
	procs   *processTable

	mu       sync.Mutex
	workers  map[string]*Worker
	flags    workflow.Flags
	suspects map[int64]bool
}

// TeamLeadID returns the agent id of a project's Team Lead.
func TeamLeadID(projectID string) string { return "tl-" + projectID }

// newTeamLead builds the lead of project. bd is the project's shared board;
// nil creates one.
func newTeamLead(parent context.Context, deps Deps, parentID string, project models.Project, bd *board.Board) *TeamLead {
	log := deps.Log.With().Str("project_id", project.ID).Logger()
	trees := worktree.New(deps.Store, deps.Home, project.ID, log)
	if bd == nil {
		bd = board.New(deps.Store, project.ID)
	}
	t := &TeamLead{
		base: newBase(parent, deps, models.Agent{
			ID:            TeamLeadID(project.ID),
			Role:          models.RoleTeamLead,
			ParentID:      parentID,
			ProjectID:     project.ID,
			SystemPrompt:  teamLeadSystemPrompt(project, deps.Limits.MaxWorkers),
			WorkspacePath: trees.RepoDir(),
		}),
		project: project,
		board:   bd,
		trees:   trees,
		merges: &merge.Queue{
			Merger:    trees,
			ProjectID: project.ID,
			TestCmd:   deps.MergeTestCmd,
			Log:       log,
		},
		journal:  &memory.Journal{ProjectDir: trees.ProjectDir()},
		procs:    newProcessTable(),
		workers:  make(map[string]*Worker),
		suspects: make(map[int64]bool),
	}
	t.tools = t.buildTools()
	return t
}

// start persists the Team Lead, restores context from the project's history
// and journal, flags leftover in-progress work, then starts receiving.
func (t *TeamLead) start(ctx context.Context) {
	t.persist(ctx)
	t.seedFromHistory(ctx)
	if items, err := t.reconcile(ctx); err != nil {
		t.log.Warn().Err(err).Msg("initial reconciliation failed")
	} else if items != "" {
		t.log.Info().Msg("in-progress tasks without live workers found on start")
	}
	t.register(t.HandleMessage)
	t.log.Info().Msg("team lead started")
}

func (t *TeamLead) seedFromHistory(ctx context.Context) {
	var b strings.Builder
	msgs, err := t.deps.Bus.ConversationMessages(ctx, t.conversationID())
	if err != nil {
		t.log.Debug().Err(err).Msg("load conversation failed")
	}
	resumed := false
	for _, m := range msgs {
		if m.From == t.ID() || m.To == t.ID() {
			resumed = true
			break
		}
	}
	if len(msgs) > seedMessages {
		msgs = msgs[len(msgs)-seedMessages:]
	}
	if resumed {
		b.WriteString("Recent project messages:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "[%s] %s -> %s: %s\n", m.Type, orUser(m.From), orAll(m.To), truncate(m.Content, seedMessageLen))
		}
	}
	summary, err := t.journal.Summary(ctx, journalSummaryLen)
	if err != nil {
		t.log.Debug().Err(err).Msg("read journal failed")
	} else if !strings.HasPrefix(summary, "(no journal") {
		b.WriteString("\nJournal of worker outcomes:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return
	}
	t.seed("You are resuming work on this project. Context from before you started:\n\n" + b.String())
}

// Board returns the project's task board.
func (t *TeamLead) Board() *board.Board { return t.board }

// Worktrees returns the project's worktree manager.
func (t *TeamLead) Worktrees() *worktree.Manager { return t.trees }

// Project returns the project the Team Lead was started for.
func (t *TeamLead) Project() models.Project { return t.project }

// Workers returns the records of the live workers, sorted by id.
func (t *TeamLead) Workers() []models.Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Agent, 0, len(t.workers))
	for _, w := range t.workers {
		out = append(out, w.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flags returns the directive's one-shot phase flags.
func (t *TeamLead) Flags() workflow.Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags
}

func (t *TeamLead) liveWorker(id string) (*Worker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.workers[id]
	return w, ok
}

func (t *TeamLead) liveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// HandleMessage dispatches directives, worker reports, status requests and chat.
func (t *TeamLead) HandleMessage(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.MessageDirective:
		t.handleDirective(ctx, msg)
	case models.MessageReport:
		t.handleReport(ctx, msg)
	case models.MessageStatusRequest:
		t.replyStatus(ctx, msg)
	case models.MessageChat:
		res, err := t.think(ctx, msg.Content)
		if err != nil {
			t.log.Error().Err(err).Msg("chat turn failed")
			return
		}
		if msg.From != "" && strings.TrimSpace(res.Text) != "" {
			if _, err := t.send(ctx, models.Message{To: msg.From, Type: models.MessageChat, Content: res.Text}); err != nil {
				t.log.Debug().Err(err).Msg("chat reply failed")
			}
		}
	}
}

func (t *TeamLead) handleDirective(ctx context.Context, msg models.Message) {
	t.mu.Lock()
	t.flags = workflow.Flags{}
	t.mu.Unlock()
	t.log.Info().Str("message_id", msg.ID).Msg("directive received")

	var b strings.Builder
	fmt.Fprintf(&b, "New directive for project %q:\n%s\n", t.project.Name, msg.Content)
	if items, err := t.reconcile(ctx); err != nil {
		t.log.Warn().Err(err).Msg("reconciliation failed")
	} else if items != "" {
		b.WriteString("\nAction items:\n")
		b.WriteString(items)
	}
	t.drive(ctx, b.String())
}

func (t *TeamLead) handleReport(ctx context.Context, msg models.Message) {
	workerID := msg.From
	taskID := metaInt(msg.Metadata, "task_id")
	success := metaBool(msg.Metadata, "success")

	t.mu.Lock()
	w, live := t.workers[workerID]
	delete(t.workers, workerID)
	t.mu.Unlock()
	if !live {
		t.log.Warn().Str("worker_id", workerID).Msg("report from a worker that is not live")
	}

	outcome, title := t.applyOutcome(ctx, workerID, taskID, success)
	if w != nil {
		_ = w.Destroy(ctx)
		if !success && w.Branch() != "" {
			if err := t.trees.Abandon(ctx, workerID); err != nil {
				t.log.Warn().Err(err).Str("worker_id", workerID).Msg("abandon failed worktree")
			}
		}
	}
	t.log.Info().Str("worker_id", workerID).Int64("task_id", taskID).Bool("success", success).Msg("worker report")

	result := "failure"
	if success {
		result = "success"
	}
	if err := t.journal.Append(ctx, memory.JournalEntry{
		AgentID:   workerID,
		TaskID:    taskID,
		TaskTitle: title,
		Outcome:   result,
		Summary:   msg.Content,
	}); err != nil {
		t.log.Warn().Err(err).Msg("journal append failed")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Report from %s on task #%d (%s):\n%s\n\n%s\n", workerID, taskID, result, msg.Content, outcome)
	if items, err := t.reconcile(ctx); err != nil {
		t.log.Warn().Err(err).Msg("reconciliation failed")
	} else if items != "" {
		b.WriteString("\nAction items:\n")
		b.WriteString(items)
	}
	t.drive(ctx, b.String())
}

// applyOutcome moves the reported task. Only a task still in progress and
// assigned to the reporting worker is touched.
func (t *TeamLead) applyOutcome(ctx context.Context, workerID string, taskID int64, success bool) (string, string) {
	task, err := t.board.Get(ctx, taskID)
	if err != nil {
		return fmt.Sprintf("Task #%d no longer exists; nothing to update.", taskID), ""
	}
	if task.Column != models.ColumnInProgress || task.Assignee != workerID {
		return fmt.Sprintf("Task #%d is %s (assignee %q); board left unchanged.", taskID, task.Column, task.Assignee), task.Title
	}
	if success {
		if _, err := t.board.Complete(ctx, taskID); err != nil {
			t.log.Warn().Err(err).Int64("task_id", taskID).Msg("complete task failed")
			return fmt.Sprintf("Could not move task #%d to done: %v", taskID, err), task.Title
		}
		return fmt.Sprintf("Task #%d moved to done.", taskID), task.Title
	}
	if _, err := t.board.Requeue(ctx, taskID); err != nil {
		t.log.Warn().Err(err).Int64("task_id", taskID).Msg("requeue task failed")
		return fmt.Sprintf("Could not requeue task #%d: %v", taskID, err), task.Title
	}
	return fmt.Sprintf("Task #%d returned to backlog; its branch was abandoned.", taskID), task.Title
}

func (t *TeamLead) replyStatus(ctx context.Context, msg models.Message) {
	content := t.statusLine(ctx)
	reply := bus.Reply(msg, t.ID(), content, map[string]any{
		"status":  string(t.Status()),
		"workers": t.liveCount(),
	})
	if _, err := t.deps.Bus.Send(context.WithoutCancel(ctx), reply); err != nil {
		t.log.Debug().Err(err).Msg("status reply failed")
	}
}

func (t *TeamLead) statusLine(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %q (%s), team lead %s.\n", t.project.Name, t.project.ID, t.Status())
	if st, err := t.board.State(ctx); err == nil {
		b.WriteString(st.Summary)
		b.WriteString("\n")
	}
	workers := t.Workers()
	if len(workers) == 0 {
		b.WriteString("No live workers.")
	} else {
		fmt.Fprintf(&b, "%d live worker(s):", len(workers))
		for _, w := range workers {
			fmt.Fprintf(&b, "\n  %s task #%d (%s) %s", w.ID, w.TaskID, w.Template, w.Status)
		}
	}
	return b.String()
}

// Destroy stops every worker and background process, abandons every active
// worktree of the project and unregisters the Team Lead.
func (t *TeamLead) Destroy(ctx context.Context) error {
	if !t.shutdown() {
		return nil
	}
	t.mu.Lock()
	workers := t.workers
	t.workers = make(map[string]*Worker)
	t.mu.Unlock()
	for _, w := range workers {
		_ = w.Destroy(ctx)
	}
	n, err := t.trees.AbandonAll(ctx)
	stopped := t.procs.stopAll()
	t.setStatus(ctx, models.AgentDone)
	t.log.Info().Int("workers", len(workers)).Int("worktrees", n).Int("processes", stopped).Msg("team lead destroyed")
	if err != nil {
		return fmt.Errorf("abandon worktrees: %w", err)
	}
	return nil
}

func metaInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func metaBool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orUser(id string) string {
	if id == "" {
		return "user"
	}
	return id
}

func orAll(id string) string {
	if id == "" {
		return "all"
	}
	return id
}
