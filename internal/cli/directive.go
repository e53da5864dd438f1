package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDirectiveCmd(g *globals) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "directive <text>...",
		Short: "Send a directive to the COO (scoped to a project with --project)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := c.SubmitDirective(cmd.Context(), project, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Directive %s queued\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project id")
	return cmd
}
