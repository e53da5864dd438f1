package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ankittk/orchestra/internal/cli"
)

// Run executes the CLI and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "orchestra:", err)
		return 1
	}
	return 0
}
