// Package memory owns the on-disk layout of a project and its markdown journal.
package memory

import (
	"os"
	"path/filepath"
	"strings"
)

// SafeName returns a filesystem-safe version of an id or name.
func SafeName(name string) string {
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	return s
}

// ProjectDir returns <home>/projects/<projectID>/.
func ProjectDir(home, projectID string) string {
	return filepath.Join(home, "projects", SafeName(projectID))
}

// RepoDir returns the project's main repository: <projectDir>/repo/.
func RepoDir(projectDir string) string {
	return filepath.Join(projectDir, "repo")
}

// WorktreesDir returns <projectDir>/worktrees/.
func WorktreesDir(projectDir string) string {
	return filepath.Join(projectDir, "worktrees")
}

// WorktreePath returns the worktree of one worker: <projectDir>/worktrees/<agentID>/.
func WorktreePath(projectDir, agentID string) string {
	return filepath.Join(WorktreesDir(projectDir), SafeName(agentID))
}

// JournalPath returns the project journal: <projectDir>/journal.md.
func JournalPath(projectDir string) string {
	return filepath.Join(projectDir, "journal.md")
}

// LogsDir holds background process logs: <projectDir>/logs/.
func LogsDir(projectDir string) string {
	return filepath.Join(projectDir, "logs")
}

// EnsureProjectDirs creates the project directory with its worktrees and logs subdirectories.
func EnsureProjectDirs(projectDir string) error {
	for _, d := range []string{projectDir, WorktreesDir(projectDir), LogsDir(projectDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// RemoveProjectDir deletes everything stored for a project.
func RemoveProjectDir(projectDir string) error {
	if projectDir == "" {
		return nil
	}
	return os.RemoveAll(projectDir)
}
