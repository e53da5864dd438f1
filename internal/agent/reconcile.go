package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ankittk/orchestra/pkg/models"
)

// reconcile looks for in-progress tasks whose assignee is not a live worker.
// A task seen orphaned for the first time becomes an action item; one that
// was already flagged last time is returned to the backlog and its branch
// abandoned.
func (t *TeamLead) reconcile(ctx context.Context) (string, error) {
	tasks, err := t.board.List(ctx, models.ColumnInProgress)
	if err != nil {
		return "", fmt.Errorf("list in-progress tasks: %w", err)
	}
	t.mu.Lock()
	live := make(map[string]bool, len(t.workers))
	for id := range t.workers {
		live[id] = true
	}
	prev := t.suspects
	t.mu.Unlock()

	next := make(map[int64]bool)
	var b strings.Builder
	for _, task := range tasks {
		if task.Assignee != "" && live[task.Assignee] {
			continue
		}
		if !prev[task.ID] {
			next[task.ID] = true
			fmt.Fprintf(&b, "- Task #%d %q is in progress but %s. Requeue it (update_task column=backlog) or check on it; it is requeued automatically if still orphaned next time.\n",
				task.ID, task.Title, describeAssignee(task.Assignee))
			continue
		}
		if _, err := t.board.Requeue(ctx, task.ID); err != nil {
			return "", fmt.Errorf("requeue orphaned task %d: %w", task.ID, err)
		}
		if task.Assignee != "" {
			if err := t.trees.Abandon(ctx, task.Assignee); err != nil {
				t.log.Debug().Err(err).Str("worker_id", task.Assignee).Msg("no worktree to abandon for orphan")
			}
		}
		t.log.Info().Int64("task_id", task.ID).Str("assignee", task.Assignee).Msg("orphaned task requeued")
		fmt.Fprintf(&b, "- Task #%d %q was still orphaned and has been returned to the backlog.\n", task.ID, task.Title)
	}

	t.mu.Lock()
	t.suspects = next
	t.mu.Unlock()
	return b.String(), nil
}

func describeAssignee(id string) string {
	if id == "" {
		return "has no assignee"
	}
	return fmt.Sprintf("its assignee %s is not a live worker", id)
}
