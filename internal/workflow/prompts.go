package workflow

import (
	"fmt"
	"strings"
)

// Labels put on tasks the engine asks for.
const (
	LabelVerification = "verification"
	LabelDeployment   = "deployment"
	LabelRemediation  = "remediation"
)

// Input is what a continuation prompt is built from.
type Input struct {
	Phase        Phase
	Snapshot     Snapshot
	BoardSummary string
	Branches     string // worktree overview
	Cycle        int
	MaxCycles    int
}

// ContinuationPrompt is the synthesized user turn for the next Team Lead think.
// Cycle 0 is the turn that answers a directive or report.
func ContinuationPrompt(in Input) string {
	var b strings.Builder
	if in.Cycle > 0 {
		fmt.Fprintf(&b, "[continuation %d/%d] ", in.Cycle, in.MaxCycles)
	}
	fmt.Fprintf(&b, "Phase: %s. State: %s.\n\n", in.Phase, in.Snapshot)
	if in.BoardSummary != "" {
		b.WriteString("Board:\n")
		b.WriteString(in.BoardSummary)
		b.WriteString("\n\n")
	}
	if in.Branches != "" {
		b.WriteString("Branches:\n")
		b.WriteString(in.Branches)
		b.WriteString("\n\n")
	}
	b.WriteString(instructions(in.Phase))
	return b.String()
}

func instructions(p Phase) string {
	switch p {
	case PhaseWorking:
		return "Tasks remain in the backlog. Spawn workers for backlog tasks while capacity allows (spawn_worker). " +
			"If the board is empty, break the directive into tasks first (create_task)."
	case PhaseAwaiting:
		return "All remaining tasks are in progress. Do not poll. Wait for the next worker report."
	case PhaseFinalAssembly:
		return "All tasks are done but worker branches are still unmerged. Merge them into main in dependency order " +
			"(merge_worker_branch, or merge_all_branches). For a conflict, rebase the branch (update_worker_branch) " +
			"or create a fix task."
	case PhaseVerification:
		return "All work is merged. Create a task labelled \"" + LabelVerification + "\" describing how to verify the " +
			"integrated result, then spawn a tester worker for it with use_main_repo=true."
	case PhaseDeployment:
		return "Verification was requested. Create a task labelled \"" + LabelDeployment + "\" to start the application " +
			"as a background process and confirm it is reachable, then spawn a worker for it with use_main_repo=true. " +
			"If verification failed, create \"" + LabelRemediation + "\" tasks instead."
	case PhaseReporting:
		return "Deployment was requested. Send the final report to the COO (report_to_coo) summarizing what was built, " +
			"how it was verified and how it was deployed. If deployment failed, create \"" + LabelRemediation +
			"\" tasks instead of reporting."
	}
	return "The project is complete. No further action is needed."
}
