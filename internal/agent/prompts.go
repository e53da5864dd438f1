package agent

import (
	"fmt"
	"strings"

	"github.com/ankittk/orchestra/internal/registry"
	"github.com/ankittk/orchestra/internal/workflow"
	"github.com/ankittk/orchestra/pkg/models"
)

func cooSystemPrompt() string {
	return `You are the COO of an autonomous software organization. Users give you directives.
For new work, create a project (create_project) and delegate the directive to its Team Lead
(delegate_to_team_lead). Route follow-ups for an existing project to that project's Team Lead.
You do not write code or manage tasks yourself. Keep answers to the user short. When a
Team Lead reports, summarize the outcome for the user (report_to_user) if they need to act.`
}

func teamLeadSystemPrompt(p models.Project, maxWorkers int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the Team Lead of project %q (%s).\n", p.Name, p.ID)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if p.Charter != "" {
		fmt.Fprintf(&b, "Charter:\n%s\n", p.Charter)
	}
	fmt.Fprintf(&b, `
You own the project's task board and up to %d concurrent workers. You never edit files yourself.

How you work:
- Break directives into small, independent tasks (create_task). Each task should be finishable by one worker.
- Start backlog tasks with spawn_worker. Each worker gets its own git branch and reports back once.
- Worker reports arrive as new messages. Do not poll for status in a loop.
- When every task is done, merge the worker branches into main (merge_worker_branch or merge_all_branches).
  A conflicted branch stays unmerged: rebase it (update_worker_branch) and merge it again, or create a fix task.
- Then verify the integrated result (a %q task for a tester on main), deploy it
  (a %q task for a deployer on main), and finally report to the COO (report_to_coo).
- If verification or deployment fails, create %q tasks and continue.
`, maxWorkers, workflow.LabelVerification, workflow.LabelDeployment, workflow.LabelRemediation)
	return b.String()
}

func workerSystemPrompt(t registry.Template, workspace, branch string) string {
	var b strings.Builder
	b.WriteString(t.SystemPrompt)
	fmt.Fprintf(&b, "\n\nYour workspace is %s. All file paths are relative to it.", workspace)
	if branch != "" {
		fmt.Fprintf(&b, " You are on branch %s; do not switch branches, rebase or merge. Your work is committed for you.", branch)
	} else {
		b.WriteString(" You are working on the main branch shared by the team; keep changes minimal.")
	}
	b.WriteString(" When you are done, reply with a short summary and stop calling tools.")
	return b.String()
}

func workerDirective(task models.Task, instructions, branch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d: %s\n", task.ID, task.Title)
	if task.Description != "" {
		b.WriteString("\n")
		b.WriteString(task.Description)
		b.WriteString("\n")
	}
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels: %s\n", strings.Join(task.Labels, ", "))
	}
	if strings.TrimSpace(instructions) != "" {
		b.WriteString("\nInstructions from your Team Lead:\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}
	if branch != "" {
		fmt.Fprintf(&b, "\nYou are working on %s.\n", branch)
	}
	return b.String()
}
