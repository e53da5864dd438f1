// Package merge serializes merges of worker branches into a project's main branch.
package merge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/git"
	"github.com/ankittk/orchestra/internal/otel"
	"github.com/ankittk/orchestra/internal/worktree"
	"github.com/ankittk/orchestra/pkg/models"
)

// Merger is the part of *worktree.Manager the queue drives.
type Merger interface {
	Reopen(ctx context.Context, agentID string) (models.Worktree, error)
	Park(ctx context.Context, agentID string) error
	List(ctx context.Context) ([]models.Worktree, error)
	Merge(ctx context.Context, agentID string) (worktree.MergeResult, error)
}

// Queue runs one merge at a time against main. When TestCmd is set it runs in
// the worker's worktree first; a failure removes the worktree and keeps the
// branch unmerged for a retry.
type Queue struct {
	Merger    Merger
	ProjectID string
	TestCmd   string
	Log       zerolog.Logger

	mu sync.Mutex
}

// Merge merges one worker branch.
func (q *Queue) Merge(ctx context.Context, agentID string) (worktree.MergeResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mergeLocked(ctx, agentID)
}

func (q *Queue) mergeLocked(ctx context.Context, agentID string) (worktree.MergeResult, error) {
	if q.TestCmd != "" {
		wt, err := q.Merger.Reopen(ctx, agentID)
		if err != nil {
			return worktree.MergeResult{}, err
		}
		if err := git.RunTestCmd(ctx, wt.Path, q.TestCmd); err != nil {
			q.Log.Warn().Err(err).Str("agent_id", agentID).Msg("pre-merge tests failed")
			otel.RecordMerge(ctx, q.ProjectID, worktree.OutcomeTestsFailed)
			if perr := q.Merger.Park(ctx, agentID); perr != nil {
				q.Log.Warn().Err(perr).Str("agent_id", agentID).Msg("park worktree failed")
			}
			return worktree.MergeResult{
				AgentID: agentID,
				Branch:  wt.Branch,
				Outcome: worktree.OutcomeTestsFailed,
				Message: fmt.Sprintf("Tests failed on %s; not merged. Worktree removed, branch kept for a fix and retry. %v", wt.Branch, err),
			}, nil
		}
	}
	res, err := q.Merger.Merge(ctx, agentID)
	if err != nil {
		return res, err
	}
	otel.RecordMerge(ctx, q.ProjectID, res.Outcome)
	q.Log.Info().Str("agent_id", agentID).Str("outcome", res.Outcome).Msg("merge finished")
	return res, nil
}

// MergeAll merges every unmerged branch in creation order and keeps going past
// conflicts and test failures.
func (q *Queue) MergeAll(ctx context.Context) ([]worktree.MergeResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	wts, err := q.Merger.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]worktree.MergeResult, 0, len(wts))
	for _, wt := range wts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := q.mergeLocked(ctx, wt.AgentID)
		if err != nil {
			res = worktree.MergeResult{AgentID: wt.AgentID, Branch: wt.Branch, Outcome: worktree.OutcomeConflict, Message: err.Error()}
		}
		out = append(out, res)
	}
	return out, nil
}

// Summarize renders merge results one per line.
func Summarize(results []worktree.MergeResult) string {
	if len(results) == 0 {
		return "No unmerged worker branches to merge."
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Branch, r.String()))
	}
	return strings.Join(lines, "\n")
}
