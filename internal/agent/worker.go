package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ankittk/orchestra/internal/bus"
	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/sandbox"
	"github.com/ankittk/orchestra/pkg/models"
)

// Worker executes one task in its workspace and reports back exactly once.
type Worker struct {
	*base

	taskID    int64
	template  registry.Template
	workspace sandbox.Workspace
	branch    string
	logsDir   string
	procs     *processTable

	once sync.Once
}

// workerSpec is what the Team Lead decides before spawning.
type workerSpec struct {
	ID        string
	TaskID    int64
	Template  registry.Template
	Workspace string
	Branch    string // empty when working on main directly
	LogsDir   string
}

func newWorker(parent context.Context, deps Deps, lead *TeamLead, ws workerSpec) *Worker {
	model := ws.Template.Model
	if model == "" {
		model = deps.Model
	}
	w := &Worker{
		base: newBase(parent, deps, models.Agent{
			ID:            ws.ID,
			Role:          models.RoleWorker,
			ParentID:      lead.ID(),
			ProjectID:     lead.ProjectID(),
			Model:         model,
			SystemPrompt:  workerSystemPrompt(ws.Template, ws.Workspace, ws.Branch),
			WorkspacePath: ws.Workspace,
			TaskID:        ws.TaskID,
			Template:      ws.Template.ID,
		}),
		taskID:    ws.TaskID,
		template:  ws.Template,
		workspace: sandbox.Workspace{Root: ws.Workspace},
		branch:    ws.Branch,
		logsDir:   ws.LogsDir,
		procs:     lead.procs,
	}
	w.tools = w.buildTools(ws.Template.Tools)
	return w
}

// TaskID returns the board task the worker was spawned for.
func (w *Worker) TaskID() int64 { return w.taskID }

// Branch returns the worker's branch, or "" when it works on main.
func (w *Worker) Branch() string { return w.branch }

// HandleMessage runs the task on the first Directive and answers status requests.
func (w *Worker) HandleMessage(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.MessageDirective:
		ran := false
		w.once.Do(func() {
			ran = true
			w.run(ctx, msg)
		})
		if !ran {
			w.log.Debug().Str("message_id", msg.ID).Msg("worker already ran; directive ignored")
		}
	case models.MessageStatusRequest:
		reply := bus.Reply(msg, w.ID(), fmt.Sprintf("%s on task #%d: %s", w.ID(), w.taskID, w.Status()), map[string]any{
			"status":  string(w.Status()),
			"task_id": w.taskID,
		})
		if _, err := w.deps.Bus.Send(context.WithoutCancel(ctx), reply); err != nil {
			w.log.Debug().Err(err).Msg("status reply failed")
		}
	default:
		w.log.Debug().Str("type", string(msg.Type)).Msg("worker ignores message")
	}
}

func (w *Worker) run(ctx context.Context, msg models.Message) {
	taskCtx, cancel := context.WithTimeout(ctx, w.deps.Limits.TaskTimeout)
	defer cancel()

	res, err := w.think(taskCtx, msg.Content)
	if ctx.Err() != nil {
		// Destroyed mid-task; the Team Lead already knows.
		w.log.Info().Int64("task_id", w.taskID).Msg("worker stopped before reporting")
		return
	}

	success := err == nil && !res.Exhausted
	var content string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		content = fmt.Sprintf("Task #%d failed: timed out after %s.", w.taskID, w.deps.Limits.TaskTimeout)
	case err != nil:
		content = fmt.Sprintf("Task #%d failed: %v", w.taskID, err)
	case res.Exhausted:
		content = fmt.Sprintf("Task #%d failed: gave up after %d tool rounds.", w.taskID, w.deps.Limits.MaxToolRounds)
		if t := strings.TrimSpace(res.Text); t != "" {
			content += "\nLast note: " + t
		}
	default:
		content = strings.TrimSpace(res.Text)
		if content == "" {
			content = fmt.Sprintf("Task #%d completed.", w.taskID)
		}
	}

	if success {
		w.setStatus(ctx, models.AgentDone)
	} else {
		w.setStatus(ctx, models.AgentError)
	}
	w.log.Info().Int64("task_id", w.taskID).Bool("success", success).Int("tool_calls", res.ToolCalls).Msg("worker finished")

	_, sendErr := w.send(ctx, models.Message{
		To:      w.ParentID(),
		Type:    models.MessageReport,
		Content: content,
		Metadata: map[string]any{
			"task_id":  w.taskID,
			"success":  success,
			"branch":   w.branch,
			"template": w.template.ID,
		},
	})
	if sendErr != nil {
		w.log.Warn().Err(sendErr).Msg("send report failed")
	}
}

// Destroy stops the worker. Its worktree and background processes belong to
// the Team Lead and are left in place.
func (w *Worker) Destroy(ctx context.Context) error {
	if !w.shutdown() {
		return nil
	}
	if s := w.Status(); s != models.AgentError {
		w.setStatus(ctx, models.AgentDone)
	}
	w.log.Debug().Msg("worker destroyed")
	return nil
}
