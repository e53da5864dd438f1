package agent

import (
	"context"
	"fmt"

	"github.com/ankittk/orchestra/internal/board"
	"github.com/ankittk/orchestra/internal/otel"
	"github.com/ankittk/orchestra/internal/workflow"
)

// snapshot reads the board counts and the number of active worktrees.
func (t *TeamLead) snapshot(ctx context.Context) (workflow.Snapshot, string, error) {
	tasks, err := t.board.List(ctx, "")
	if err != nil {
		return workflow.Snapshot{}, "", fmt.Errorf("list tasks: %w", err)
	}
	state := board.Summarize(tasks)
	trees, err := t.trees.List(ctx)
	if err != nil {
		return workflow.Snapshot{}, "", fmt.Errorf("list worktrees: %w", err)
	}
	return workflow.NewSnapshot(state, len(trees)), state.Summary, nil
}

// phasePrompt decides the phase for s, marks it entered and renders the prompt.
func (t *TeamLead) phasePrompt(ctx context.Context, s workflow.Snapshot, summary string, cycle int) (workflow.Phase, string) {
	t.mu.Lock()
	phase := workflow.Decide(s, t.flags)
	t.flags.Enter(phase)
	t.mu.Unlock()

	branches := ""
	if s.Worktrees > 0 {
		if o, err := t.trees.Overview(ctx); err == nil {
			branches = o
		}
	}
	return phase, workflow.ContinuationPrompt(workflow.Input{
		Phase:        phase,
		Snapshot:     s,
		BoardSummary: summary,
		Branches:     branches,
		Cycle:        cycle,
		MaxCycles:    t.deps.Limits.MaxContinuationCycles,
	})
}

// drive thinks on lead, then keeps re-evaluating the project for as long as
// each turn acted and the state moved, up to MaxContinuationCycles.
func (t *TeamLead) drive(ctx context.Context, lead string) {
	maxCycles := t.deps.Limits.MaxContinuationCycles
	prev, summary, err := t.snapshot(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("snapshot failed")
		return
	}
	_, prompt := t.phasePrompt(ctx, prev, summary, 0)
	res, err := t.think(ctx, lead+"\n"+prompt)

	for cycle := 1; ; cycle++ {
		if err != nil {
			t.log.Error().Err(err).Int("cycle", cycle-1).Msg("team lead turn failed")
			return
		}
		if !res.ToolCallsHappened {
			return
		}
		if cycle > maxCycles {
			t.log.Warn().Int("max_cycles", maxCycles).Msg("continuation cycle limit reached")
			return
		}
		cur, summary, serr := t.snapshot(ctx)
		if serr != nil {
			t.log.Error().Err(serr).Msg("snapshot failed")
			return
		}
		if cur.Stale(prev) {
			otel.RecordStaleStop(ctx, t.ProjectID())
			t.log.Info().Int("cycle", cycle).Str("state", cur.String()).Msg("state unchanged; continuation stopped")
			return
		}
		phase, prompt := t.phasePrompt(ctx, cur, summary, cycle)
		otel.RecordContinuationCycle(ctx, t.ProjectID(), phase.String())
		if phase.Stops() {
			t.log.Debug().Int("cycle", cycle).Str("phase", phase.String()).Msg("continuation stopped")
			return
		}
		t.log.Debug().Int("cycle", cycle).Str("phase", phase.String()).Str("state", cur.String()).Msg("continuing")
		prev = cur
		res, err = t.think(ctx, prompt)
	}
}
