package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"p1", "p1"},
		{"  proj 2  ", "proj_2"},
		{"a b c", "a_b_c"},
		{"a/b", "a_b"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProjectLayout(t *testing.T) {
	t.Parallel()
	pd := ProjectDir("/home", "proj one")
	if want := filepath.Join("/home", "projects", "proj_one"); pd != want {
		t.Fatalf("ProjectDir: got %q, want %q", pd, want)
	}
	if got := RepoDir(pd); got != filepath.Join(pd, "repo") {
		t.Errorf("RepoDir: got %q", got)
	}
	if got := WorktreePath(pd, "w 1"); got != filepath.Join(pd, "worktrees", "w_1") {
		t.Errorf("WorktreePath: got %q", got)
	}
	if got := JournalPath(pd); got != filepath.Join(pd, "journal.md") {
		t.Errorf("JournalPath: got %q", got)
	}
	if got := LogsDir(pd); got != filepath.Join(pd, "logs") {
		t.Errorf("LogsDir: got %q", got)
	}
}

func TestEnsureAndRemoveProjectDirs(t *testing.T) {
	t.Parallel()
	pd := filepath.Join(t.TempDir(), "projects", "p-2")
	if err := EnsureProjectDirs(pd); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{WorktreesDir(pd), LogsDir(pd)} {
		if !isDir(d) {
			t.Errorf("%s not created", d)
		}
	}
	if err := RemoveProjectDir(pd); err != nil {
		t.Fatal(err)
	}
	if isDir(pd) {
		t.Errorf("project dir still present")
	}
	if err := RemoveProjectDir(""); err != nil {
		t.Errorf("empty dir: %v", err)
	}
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
