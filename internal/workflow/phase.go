// Package workflow decides which phase a project is in after each Team Lead
// turn and builds the continuation prompt for that phase.
package workflow

import (
	"fmt"

	"github.com/ankittk/orchestra/pkg/models"
)

// Phase is a step of the per-project continuation state machine.
type Phase int

const (
	PhaseWorking Phase = iota
	PhaseAwaiting
	PhaseFinalAssembly
	PhaseVerification
	PhaseDeployment
	PhaseReporting
	PhaseDone
)

var phaseNames = [...]string{
	PhaseWorking:       "working",
	PhaseAwaiting:      "awaiting",
	PhaseFinalAssembly: "final_assembly",
	PhaseVerification:  "verification",
	PhaseDeployment:    "deployment",
	PhaseReporting:     "reporting",
	PhaseDone:          "done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Snapshot is the observable state compared between continuation cycles.
// Only counts are compared: two tasks swapping columns in one cycle look
// unchanged. This is a known limitation of stale detection.
type Snapshot struct {
	Backlog    int
	InProgress int
	Done       int
	Worktrees  int
}

// NewSnapshot builds a snapshot from a board state and the number of active worktrees.
func NewSnapshot(s models.BoardState, activeWorktrees int) Snapshot {
	return Snapshot{Backlog: s.Backlog, InProgress: s.InProgress, Done: s.Done, Worktrees: activeWorktrees}
}

// Total is the number of tasks on the board.
func (s Snapshot) Total() int { return s.Backlog + s.InProgress + s.Done }

// AllDone mirrors the board rule: nothing queued or running and at least one task done.
func (s Snapshot) AllDone() bool {
	return s.Backlog == 0 && s.InProgress == 0 && s.Done >= 1
}

// Stale reports whether nothing observable changed since prev.
func (s Snapshot) Stale(prev Snapshot) bool { return s == prev }

func (s Snapshot) String() string {
	return fmt.Sprintf("backlog=%d in_progress=%d done=%d worktrees=%d", s.Backlog, s.InProgress, s.Done, s.Worktrees)
}

// Flags are the one-shot markers of a directive. They reset on every new directive.
type Flags struct {
	VerificationRequested bool
	DeploymentRequested   bool
	Reported              bool
}

// Decide maps a snapshot and the directive flags to the next phase.
func Decide(s Snapshot, f Flags) Phase {
	switch {
	case s.Total() == 0 || s.Backlog > 0:
		return PhaseWorking
	case s.InProgress > 0:
		return PhaseAwaiting
	case s.Worktrees > 0:
		return PhaseFinalAssembly
	case !f.VerificationRequested:
		return PhaseVerification
	case !f.DeploymentRequested:
		return PhaseDeployment
	case !f.Reported:
		return PhaseReporting
	}
	return PhaseDone
}

// Enter records the one-shot flag a phase sets when the engine enters it.
func (f *Flags) Enter(p Phase) {
	switch p {
	case PhaseVerification:
		f.VerificationRequested = true
	case PhaseDeployment:
		f.DeploymentRequested = true
	case PhaseReporting:
		f.Reported = true
	}
}

// Stops reports whether the continuation loop ends on entering p.
func (p Phase) Stops() bool {
	return p == PhaseAwaiting || p == PhaseDone
}
