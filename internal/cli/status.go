package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/orchestra/internal/config"
	"github.com/ankittk/orchestra/internal/daemon"
)

func newStatusCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestra daemon status and live agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Running {
				_, _ = fmt.Fprintln(out, "orchestra not running")
				return nil
			}
			_, _ = fmt.Fprintf(out, "orchestra running (pid %d, addr %s)\n", st.PID, st.Addr)

			c, err := g.apiClient(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := c.LiveAgents(cmd.Context())
			if err != nil {
				_, _ = fmt.Fprintf(out, "API unreachable: %v\n", err)
				return nil
			}
			for _, a := range agents {
				line := fmt.Sprintf("- %s [%s] %s", a.ID, a.Role, a.Status)
				if a.ProjectID != "" {
					line += " project=" + a.ProjectID
				}
				if a.TaskID != 0 {
					line += fmt.Sprintf(" task=#%d", a.TaskID)
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	return cmd
}
