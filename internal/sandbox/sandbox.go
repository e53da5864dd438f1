// Package sandbox guards what workers may run and touch: command deny lists,
// workspace path confinement, and optional bubblewrap isolation on Linux.
package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// BubblewrapAvailable reports whether commands can be wrapped with bwrap.
func BubblewrapAvailable() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// WrapCommand returns a command running binary with args. When home is set and
// bubblewrap is available on Linux, the command runs in a minimal bwrap sandbox:
// with writeDir under home only writeDir is writable, otherwise all of home is.
// Without bubblewrap the command runs directly.
func WrapCommand(ctx context.Context, home, writeDir, binary string, args []string) *exec.Cmd {
	if home == "" || !BubblewrapAvailable() {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, _ := exec.LookPath("bwrap")
	absHome, err := filepath.Abs(home)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	binds := []string{"--bind", absHome, absHome}
	if writeDir != "" {
		if absWrite, err := filepath.Abs(writeDir); err == nil && within(absHome, absWrite) {
			binds = []string{"--ro-bind", absHome, absHome, "--bind", absWrite, absWrite}
		}
	}
	bwrapArgs := append(binds,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind-try", "/bin", "/bin",
		"--ro-bind-try", "/etc", "/etc",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--die-with-parent",
		"--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}

// ShellCommand returns `sh -c cmdLine` in dir, wrapped when home is set.
func ShellCommand(ctx context.Context, home, dir, cmdLine string) *exec.Cmd {
	cmd := WrapCommand(ctx, home, dir, "sh", []string{"-c", cmdLine})
	cmd.Dir = dir
	return cmd
}
