package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/pkg/models"
)

func newWorktreeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Inspect worker worktrees",
	}
	cmd.AddCommand(newWorktreeListCmd(g))
	return cmd
}

func newWorktreeListCmd(g *globals) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			wts, err := c.ListWorktrees(cmd.Context(), project, models.WorktreeStatus(status))
			if err != nil {
				return err
			}
			if len(wts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No worktrees.")
				return nil
			}
			for _, w := range wts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s [%s] %s\n", w.AgentID, w.Branch, w.Status, w.Path)
			}
			return nil
		},
	}
	cmd.Flags().String("project", "", "Project id")
	cmd.Flags().StringVar(&status, "status", "", "Only this status (active, merged, conflict, abandoned)")
	return cmd
}
