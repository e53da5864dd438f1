package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the workspace root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Workspace confines a worker's file access to its root directory (a git
// worktree or the project's main repository).
type Workspace struct {
	Root string
}

// Resolve returns the absolute path of p, which may be relative to Root.
// Paths escaping Root are rejected.
func (w Workspace) Resolve(p string) (string, error) {
	root := normalizeDir(w.Root)
	if root == "" {
		return "", errors.New("workspace root is not set")
	}
	if strings.TrimSpace(p) == "" || p == "." {
		return root, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	abs := normalizeDir(p)
	if !within(root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return abs, nil
}

// ResolveWrite is Resolve plus a ban on writing into git metadata.
func (w Workspace) ResolveWrite(p string) (string, error) {
	abs, err := w.Resolve(p)
	if err != nil {
		return "", err
	}
	rel, _ := filepath.Rel(normalizeDir(w.Root), abs)
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	if first == ".git" {
		return "", fmt.Errorf("%w: git metadata is read-only", ErrOutsideWorkspace)
	}
	if abs == normalizeDir(w.Root) {
		return "", fmt.Errorf("cannot write to the workspace root itself")
	}
	return abs, nil
}

func within(root, abs string) bool {
	return abs == root || strings.HasPrefix(abs, root+string(filepath.Separator))
}

func normalizeDir(dir string) string {
	if dir == "" {
		return ""
	}
	clean := filepath.Clean(dir)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return clean
	}
	return abs
}
