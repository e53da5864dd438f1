// Package git wraps the git CLI for the per-project repository and worker worktrees.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MainBranch is the integration branch of every project repository.
const MainBranch = "main"

// Author is the identity used for commits made on behalf of agents.
type Author struct {
	Name  string
	Email string
}

func (a Author) args() []string {
	name, email := a.Name, a.Email
	if name == "" {
		name = "orchestra"
	}
	if email == "" {
		email = "orchestra@localhost"
	}
	return []string{"-c", "user.name=" + name, "-c", "user.email=" + email}
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Run runs git with args in dir and returns trimmed combined output.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_EDITOR=true")
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		sub := ""
		for _, a := range args {
			if !strings.HasPrefix(a, "-") && !strings.Contains(a, "=") {
				sub = a
				break
			}
		}
		return text, fmt.Errorf("git %s: %w: %s", sub, err, text)
	}
	return text, nil
}

// BranchName returns the branch for a worker: worker/<agentID>.
func BranchName(agentID string) string {
	return "worker/" + strings.ReplaceAll(strings.TrimSpace(agentID), " ", "-")
}

// InitRepo creates a repository at dir on MainBranch with an empty initial commit.
// If dir already holds a repository it is left untouched.
func InitRepo(ctx context.Context, dir string, author Author) error {
	if dir == "" {
		return errors.New("repo dir required")
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if _, err := Run(ctx, dir, "init"); err != nil {
		return err
	}
	if _, err := Run(ctx, dir, "symbolic-ref", "HEAD", "refs/heads/"+MainBranch); err != nil {
		return err
	}
	args := append(author.args(), "commit", "--allow-empty", "-m", "Initial commit")
	if _, err := Run(ctx, dir, args...); err != nil {
		return err
	}
	return nil
}

// HeadSHA returns the commit ref points to in dir.
func HeadSHA(ctx context.Context, dir, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return Run(ctx, dir, "rev-parse", ref)
}

// AddWorktree creates a new branch from base and checks it out at path.
// Returns the base commit.
func AddWorktree(ctx context.Context, repoDir, path, branch, base string) (string, error) {
	if repoDir == "" || path == "" || branch == "" {
		return "", errors.New("repo dir, worktree path, and branch required")
	}
	if base == "" {
		base = MainBranch
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if _, err := Run(ctx, repoDir, "worktree", "add", "-b", branch, path, base); err != nil {
		return "", err
	}
	return HeadSHA(ctx, path, "HEAD")
}

// CheckoutWorktree checks out an existing branch at path and returns its head commit.
func CheckoutWorktree(ctx context.Context, repoDir, path, branch string) (string, error) {
	if repoDir == "" || path == "" || branch == "" {
		return "", errors.New("repo dir, worktree path, and branch required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if _, err := Run(ctx, repoDir, "worktree", "add", path, branch); err != nil {
		return "", err
	}
	return HeadSHA(ctx, path, "HEAD")
}

// RemoveWorktree detaches and deletes the worktree at path. Missing paths are a no-op.
func RemoveWorktree(ctx context.Context, repoDir, path string) error {
	if path == "" {
		return nil
	}
	if repoDir != "" {
		_, _ = Run(ctx, repoDir, "worktree", "remove", "--force", path)
	}
	if err := DeleteWorktree(ctx, path); err != nil {
		return err
	}
	if repoDir != "" {
		_, _ = Run(ctx, repoDir, "worktree", "prune")
	}
	return nil
}

// DeleteWorktree removes the worktree directory.
// If worktreePath is empty or the path doesn't exist, no-op (returns nil).
func DeleteWorktree(ctx context.Context, worktreePath string) error {
	if worktreePath == "" {
		return nil
	}
	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(worktreePath)
}

// DeleteBranch force-deletes branch in repoDir. Missing branches are a no-op.
func DeleteBranch(ctx context.Context, repoDir, branch string) error {
	if repoDir == "" || branch == "" {
		return nil
	}
	if _, err := Run(ctx, repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		return nil
	}
	_, err := Run(ctx, repoDir, "branch", "-D", branch)
	return err
}

// StatusPorcelain lists changed paths (tracked and untracked) in dir.
func StatusPorcelain(ctx context.Context, dir string) ([]string, error) {
	out, err := Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// CommitAll stages everything in dir and commits it. Returns false when the tree was clean.
func CommitAll(ctx context.Context, dir, message string, author Author) (bool, error) {
	changes, err := StatusPorcelain(ctx, dir)
	if err != nil {
		return false, err
	}
	if len(changes) == 0 {
		return false, nil
	}
	if _, err := Run(ctx, dir, "add", "-A"); err != nil {
		return false, err
	}
	args := append(author.args(), "commit", "--no-verify", "-m", message)
	if _, err := Run(ctx, dir, args...); err != nil {
		return false, err
	}
	return true, nil
}

// RevCount returns the number of commits in rangeSpec (e.g. "main..worker/x").
func RevCount(ctx context.Context, dir, rangeSpec string) (int, error) {
	out, err := Run(ctx, dir, "rev-list", "--count", rangeSpec)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

// ConflictFiles lists unmerged paths in dir.
func ConflictFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := Run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Rebase rebases the branch checked out in dir onto onto. On conflict the
// rebase is aborted and the conflicting files are returned with the error.
func Rebase(ctx context.Context, dir, onto string, author Author) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if onto == "" {
		onto = MainBranch
	}
	args := append(author.args(), "rebase", onto)
	if _, err := Run(ctx, dir, args...); err != nil {
		files, _ := ConflictFiles(ctx, dir)
		_, _ = Run(ctx, dir, "rebase", "--abort")
		return files, err
	}
	return nil, nil
}

// Merge merges branch into the branch checked out in repoDir with a merge commit.
// On conflict the merge is aborted and the conflicting files are returned with the error.
func Merge(ctx context.Context, repoDir, branch, message string, author Author) ([]string, error) {
	if repoDir == "" || branch == "" {
		return nil, nil
	}
	args := append(author.args(), "merge", "--no-ff", "--no-edit", "-m", message, branch)
	if _, err := Run(ctx, repoDir, args...); err != nil {
		files, _ := ConflictFiles(ctx, repoDir)
		_, _ = Run(ctx, repoDir, "merge", "--abort")
		return files, fmt.Errorf("git merge %s: %w", branch, err)
	}
	return nil, nil
}

// Diff returns git diff base...head in dir (changes on head since it forked from base).
func Diff(ctx context.Context, dir, base, head string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if head == "" {
		head = "HEAD"
	}
	if base == "" {
		base = MainBranch
	}
	return Run(ctx, dir, "diff", base+"..."+head)
}

// DiffWorking returns uncommitted changes against HEAD in dir.
func DiffWorking(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	return Run(ctx, dir, "diff", "HEAD")
}

// RunTestCmd runs testCmd in dir with sh -c.
func RunTestCmd(ctx context.Context, dir, testCmd string) error {
	if dir == "" || testCmd == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", testCmd)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("test command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
