package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBoardCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show a project's kanban board",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			view, err := c.Board(cmd.Context(), project)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), view.State.CountsLine())
			for _, t := range view.Tasks {
				printTask(cmd, t)
			}
			return nil
		},
	}
	cmd.Flags().String("project", "", "Project id")
	return cmd
}
