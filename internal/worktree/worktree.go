// Package worktree manages a project's main repository and the per-worker git
// worktrees that isolate concurrent edits.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ankittk/orchestra/internal/git"
	"github.com/ankittk/orchestra/internal/identity"
	"github.com/ankittk/orchestra/internal/memory"
	"github.com/ankittk/orchestra/internal/store"
	"github.com/ankittk/orchestra/pkg/models"
)

// Merge outcomes.
const (
	OutcomeMerged      = "merged"
	OutcomeNothing     = "nothing to merge"
	OutcomeConflict    = "conflict"
	OutcomeTestsFailed = "tests failed"
)

// MergeResult is the non-fatal result of merging a worker branch into main.
type MergeResult struct {
	AgentID string   `json:"agent_id"`
	Branch  string   `json:"branch"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
}

// String renders the result for a prompt.
func (r MergeResult) String() string {
	s := r.Message
	if len(r.Files) > 0 {
		s += "\nConflicting files:\n  " + strings.Join(r.Files, "\n  ")
	}
	return s
}

// BranchStatus is read-only introspection of one worker branch.
type BranchStatus struct {
	AgentID     string                `json:"agent_id"`
	Branch      string                `json:"branch"`
	Status      models.WorktreeStatus `json:"status"`
	Ahead       int                   `json:"ahead"`
	Behind      int                   `json:"behind"`
	Uncommitted []string              `json:"uncommitted,omitempty"`
}

// String renders a one-line summary.
func (s BranchStatus) String() string {
	line := fmt.Sprintf("%s (%s): %d ahead, %d behind main", s.Branch, s.AgentID, s.Ahead, s.Behind)
	if n := len(s.Uncommitted); n > 0 {
		line += fmt.Sprintf(", %d uncommitted change(s)", n)
	}
	return line
}

// Manager owns the repository of one project. The Team Lead of the project is
// its only writer.
type Manager struct {
	st         store.Store
	home       string
	projectID  string
	projectDir string
	log        zerolog.Logger

	mu     sync.Mutex
	ready  bool
	author git.Author
}

// New returns a manager for projectID under home. Nothing touches disk until EnsureRepo.
func New(st store.Store, home, projectID string, log zerolog.Logger) *Manager {
	return &Manager{
		st:         st,
		home:       home,
		projectID:  projectID,
		projectDir: memory.ProjectDir(home, projectID),
		log:        log.With().Str("component", "worktree").Str("project_id", projectID).Logger(),
	}
}

// RepoDir is the project's main repository.
func (m *Manager) RepoDir() string { return memory.RepoDir(m.projectDir) }

// ProjectDir is the project's root directory.
func (m *Manager) ProjectDir() string { return m.projectDir }

// EnsureRepo initializes the main repository on first use.
func (m *Manager) EnsureRepo(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo := m.RepoDir()
	if m.ready {
		return repo, nil
	}
	if !git.Available() {
		return "", errors.New("git binary not found on PATH")
	}
	if err := memory.EnsureProjectDirs(m.projectDir); err != nil {
		return "", fmt.Errorf("project dirs: %w", err)
	}
	h := identity.Resolve(m.home, "")
	m.author = git.Author{Name: h.Name, Email: h.Email}
	if err := git.InitRepo(ctx, repo, m.author); err != nil {
		return "", fmt.Errorf("init repo: %w", err)
	}
	m.ready = true
	return repo, nil
}

// Create allocates branch worker/<agentID> off main and checks it out in the
// worker's worktree. An already active worktree is returned as is.
func (m *Manager) Create(ctx context.Context, agentID string) (models.Worktree, error) {
	if strings.TrimSpace(agentID) == "" {
		return models.Worktree{}, errors.New("agent id required")
	}
	if wt, err := m.st.GetWorktree(ctx, agentID); err == nil && wt.Status == models.WorktreeActive {
		return wt, nil
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return models.Worktree{}, err
	}
	path := memory.WorktreePath(m.projectDir, agentID)
	branch := git.BranchName(agentID)
	// Leftovers from an earlier worker with the same id.
	_ = git.RemoveWorktree(ctx, repo, path)
	_ = git.DeleteBranch(ctx, repo, branch)

	base, err := git.AddWorktree(ctx, repo, path, branch, git.MainBranch)
	if err != nil {
		return models.Worktree{}, fmt.Errorf("create worktree: %w", err)
	}
	wt := models.Worktree{
		AgentID:   agentID,
		ProjectID: m.projectID,
		Branch:    branch,
		Path:      path,
		BaseSHA:   base,
		Status:    models.WorktreeActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.SaveWorktree(ctx, wt); err != nil {
		_ = git.RemoveWorktree(ctx, repo, path)
		return models.Worktree{}, fmt.Errorf("save worktree: %w", err)
	}
	m.log.Info().Str("agent_id", agentID).Str("branch", branch).Msg("worktree created")
	return wt, nil
}

// Get returns the worktree record of agentID.
func (m *Manager) Get(ctx context.Context, agentID string) (models.Worktree, error) {
	wt, err := m.st.GetWorktree(ctx, agentID)
	if err != nil {
		return models.Worktree{}, err
	}
	if wt.ProjectID != m.projectID {
		return models.Worktree{}, fmt.Errorf("worktree %s: %w", agentID, store.ErrNotFound)
	}
	return wt, nil
}

// List returns the unmerged worktrees (active or conflicted) in creation
// order. Empty means nothing left to merge.
func (m *Manager) List(ctx context.Context) ([]models.Worktree, error) {
	all, err := m.st.ListWorktrees(ctx, m.projectID, "")
	if err != nil {
		return nil, err
	}
	wts := all[:0]
	for _, wt := range all {
		if wt.Status == models.WorktreeActive || wt.Status == models.WorktreeConflict {
			wts = append(wts, wt)
		}
	}
	sort.SliceStable(wts, func(i, j int) bool { return wts[i].CreatedAt.Before(wts[j].CreatedAt) })
	return wts, nil
}

// Reopen returns the active worktree of agentID. A branch kept after a
// conflict is checked out again at its worktree path and marked active.
func (m *Manager) Reopen(ctx context.Context, agentID string) (models.Worktree, error) {
	wt, err := m.Get(ctx, agentID)
	if err != nil {
		return models.Worktree{}, err
	}
	switch wt.Status {
	case models.WorktreeActive:
		return wt, nil
	case models.WorktreeConflict:
	default:
		return models.Worktree{}, fmt.Errorf("worktree of %s is %s, not active", agentID, wt.Status)
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return models.Worktree{}, err
	}
	_ = git.RemoveWorktree(ctx, repo, wt.Path)
	if _, err := git.CheckoutWorktree(ctx, repo, wt.Path, wt.Branch); err != nil {
		return models.Worktree{}, fmt.Errorf("reopen worktree: %w", err)
	}
	wt.Status = models.WorktreeActive
	wt.MergedAt = nil
	if err := m.st.SaveWorktree(ctx, wt); err != nil {
		_ = git.RemoveWorktree(ctx, repo, wt.Path)
		return models.Worktree{}, fmt.Errorf("save worktree: %w", err)
	}
	m.log.Info().Str("agent_id", agentID).Str("branch", wt.Branch).Msg("worktree reopened")
	return wt, nil
}

// Park commits pending work, removes the worktree directory and keeps the
// branch with status conflict so a later Update or Merge can reopen it.
func (m *Manager) Park(ctx context.Context, agentID string) error {
	wt, err := m.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if wt.Status != models.WorktreeActive {
		return nil
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(wt.Path); err == nil {
		if _, err := git.CommitAll(ctx, wt.Path, "Auto-commit work of "+agentID, m.author); err != nil {
			return fmt.Errorf("auto-commit: %w", err)
		}
	}
	m.release(ctx, repo, wt, models.WorktreeConflict, true)
	return nil
}

// Update auto-commits the worktree and rebases its branch onto main. A conflict
// aborts the rebase and is reported in the returned outcome, not as an error.
// A conflicted branch is reopened first.
func (m *Manager) Update(ctx context.Context, agentID string) (string, error) {
	wt, err := m.Reopen(ctx, agentID)
	if err != nil {
		return "", err
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return "", err
	}
	if _, err := git.CommitAll(ctx, wt.Path, "Auto-commit work of "+agentID, m.author); err != nil {
		return "", fmt.Errorf("auto-commit: %w", err)
	}
	behind, _ := git.RevCount(ctx, repo, wt.Branch+".."+git.MainBranch)
	if behind == 0 {
		return fmt.Sprintf("%s is already up to date with %s.", wt.Branch, git.MainBranch), nil
	}
	files, err := git.Rebase(ctx, wt.Path, git.MainBranch, m.author)
	if err != nil {
		if len(files) == 0 {
			return fmt.Sprintf("Rebase of %s onto %s failed and was aborted: %v", wt.Branch, git.MainBranch, err), nil
		}
		return fmt.Sprintf("Rebase of %s onto %s hit conflicts and was aborted. Conflicting files: %s",
			wt.Branch, git.MainBranch, strings.Join(files, ", ")), nil
	}
	ahead, _ := git.RevCount(ctx, repo, git.MainBranch+".."+wt.Branch)
	return fmt.Sprintf("Rebased %s onto %s (%d commit(s) picked up, %d ahead).", wt.Branch, git.MainBranch, behind, ahead), nil
}

// Merge auto-commits the worker's worktree (and a dirty main), then merges the
// branch into main with a merge commit. Every path removes the worktree.
// Conflicts are returned as an outcome; the branch is kept and a later Update
// or Merge reopens it.
func (m *Manager) Merge(ctx context.Context, agentID string) (MergeResult, error) {
	wt, err := m.Reopen(ctx, agentID)
	if err != nil {
		return MergeResult{}, err
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	res := MergeResult{AgentID: agentID, Branch: wt.Branch}
	status := models.WorktreeConflict
	keepBranch := true
	defer func() {
		m.release(ctx, repo, wt, status, keepBranch)
	}()

	if _, err := os.Stat(wt.Path); err == nil {
		if _, err := git.CommitAll(ctx, wt.Path, "Auto-commit work of "+agentID, m.author); err != nil {
			res.Outcome = OutcomeConflict
			res.Message = fmt.Sprintf("Could not commit pending changes on %s: %v", wt.Branch, err)
			return res, nil
		}
	}
	if _, err := git.CommitAll(ctx, repo, "Auto-commit main before merging "+wt.Branch, m.author); err != nil {
		return res, fmt.Errorf("auto-commit main: %w", err)
	}
	ahead, err := git.RevCount(ctx, repo, git.MainBranch+".."+wt.Branch)
	if err != nil {
		return res, fmt.Errorf("count commits: %w", err)
	}
	if ahead == 0 {
		status, keepBranch = models.WorktreeMerged, false
		res.Outcome = OutcomeNothing
		res.Message = fmt.Sprintf("Nothing to merge: %s has no commits beyond %s. Worktree removed.", wt.Branch, git.MainBranch)
		return res, nil
	}
	files, err := git.Merge(ctx, repo, wt.Branch, fmt.Sprintf("Merge %s", wt.Branch), m.author)
	if err != nil {
		res.Outcome = OutcomeConflict
		res.Files = files
		if len(files) > 0 {
			res.Message = fmt.Sprintf("Merge of %s into %s conflicted and was aborted. Branch kept; rebase it (update_worker_branch), resolve, and merge again, or create a fix task.", wt.Branch, git.MainBranch)
		} else {
			res.Message = fmt.Sprintf("Merge of %s into %s failed and was aborted: %v", wt.Branch, git.MainBranch, err)
		}
		return res, nil
	}
	status, keepBranch = models.WorktreeMerged, false
	res.Outcome = OutcomeMerged
	res.Message = fmt.Sprintf("Merged %s into %s (%d commit(s)). Worktree removed.", wt.Branch, git.MainBranch, ahead)
	return res, nil
}

// release removes the worktree directory and records the final status.
func (m *Manager) release(ctx context.Context, repo string, wt models.Worktree, status models.WorktreeStatus, keepBranch bool) {
	if err := git.RemoveWorktree(ctx, repo, wt.Path); err != nil {
		m.log.Warn().Err(err).Str("agent_id", wt.AgentID).Msg("remove worktree failed")
	}
	if !keepBranch {
		if err := git.DeleteBranch(ctx, repo, wt.Branch); err != nil {
			m.log.Warn().Err(err).Str("branch", wt.Branch).Msg("delete branch failed")
		}
	}
	wt.Status = status
	wt.MergedAt = nil
	if status == models.WorktreeMerged {
		now := time.Now().UTC()
		wt.MergedAt = &now
	}
	if err := m.st.SaveWorktree(ctx, wt); err != nil {
		m.log.Error().Err(err).Str("agent_id", wt.AgentID).Msg("save worktree status failed")
	}
	m.log.Info().Str("agent_id", wt.AgentID).Str("status", string(status)).Msg("worktree released")
}

// Diff returns the committed changes of the branch since it forked from main,
// followed by any uncommitted changes in the worktree.
func (m *Manager) Diff(ctx context.Context, agentID string) (string, error) {
	wt, err := m.Get(ctx, agentID)
	if err != nil {
		return "", err
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return "", err
	}
	committed, err := git.Diff(ctx, repo, git.MainBranch, wt.Branch)
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	var b strings.Builder
	b.WriteString(committed)
	if wt.Status == models.WorktreeActive {
		if working, err := git.DiffWorking(ctx, wt.Path); err == nil && working != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("# uncommitted\n")
			b.WriteString(working)
		}
	}
	return b.String(), nil
}

// Status reports ahead/behind counts and uncommitted paths of a branch.
func (m *Manager) Status(ctx context.Context, agentID string) (BranchStatus, error) {
	wt, err := m.Get(ctx, agentID)
	if err != nil {
		return BranchStatus{}, err
	}
	repo, err := m.EnsureRepo(ctx)
	if err != nil {
		return BranchStatus{}, err
	}
	bs := BranchStatus{AgentID: agentID, Branch: wt.Branch, Status: wt.Status}
	if bs.Ahead, err = git.RevCount(ctx, repo, git.MainBranch+".."+wt.Branch); err != nil {
		return bs, fmt.Errorf("ahead count: %w", err)
	}
	if bs.Behind, err = git.RevCount(ctx, repo, wt.Branch+".."+git.MainBranch); err != nil {
		return bs, fmt.Errorf("behind count: %w", err)
	}
	if wt.Status == models.WorktreeActive {
		bs.Uncommitted, _ = git.StatusPorcelain(ctx, wt.Path)
	}
	return bs, nil
}

// Overview renders the status of every unmerged branch.
func (m *Manager) Overview(ctx context.Context) (string, error) {
	wts, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(wts) == 0 {
		return "No unmerged worker branches.", nil
	}
	lines := make([]string, 0, len(wts)+1)
	lines = append(lines, fmt.Sprintf("%d unmerged worker branch(es):", len(wts)))
	for _, wt := range wts {
		bs, err := m.Status(ctx, wt.AgentID)
		if err != nil {
			lines = append(lines, fmt.Sprintf("  %s (%s): status unavailable: %v", wt.Branch, wt.AgentID, err))
			continue
		}
		lines = append(lines, "  "+bs.String())
	}
	return strings.Join(lines, "\n"), nil
}

// Abandon removes an unmerged worktree and its branch and marks the record
// abandoned. Merged and abandoned worktrees are left alone.
func (m *Manager) Abandon(ctx context.Context, agentID string) error {
	wt, err := m.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if wt.Status != models.WorktreeActive && wt.Status != models.WorktreeConflict {
		return nil
	}
	m.release(ctx, m.RepoDir(), wt, models.WorktreeAbandoned, false)
	return nil
}

// AbandonAll abandons every unmerged worktree of the project and returns how many.
func (m *Manager) AbandonAll(ctx context.Context) (int, error) {
	wts, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, wt := range wts {
		m.release(ctx, m.RepoDir(), wt, models.WorktreeAbandoned, false)
	}
	return len(wts), nil
}
